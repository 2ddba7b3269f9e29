package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

const (
	invoicesTable = "invoices"
	// similarLimit bounds the coarse SQL prefilter before the policy is applied in Go.
	similarLimit = 200

	maxProviderLen = 255
	maxNumberLen   = 100
)

var invoiceColumns = []string{
	"id", "hash_contenido", "proveedor_text", "numero_factura", "fecha_emision",
	"importe_total", "base_imponible", "impuestos_total", "iva_porcentaje", "moneda",
	"estado", "confianza", "extractor", "extractor_numeros", "extractor_texto",
	"discrepancias", "error_msg", "source_path", "source_hash", "created_at", "updated_at",
}

// Snapshot is the state of existing records a single decision is taken against.
type Snapshot struct {
	Hash    *entity.InvoiceSummary
	Number  *entity.InvoiceSummary
	Similar *entity.InvoiceSummary
}

type InvoiceRepository interface {
	FindByHash(ctx context.Context, hash string) (*entity.InvoiceSummary, error)
	FindByNumber(ctx context.Context, provider, number string) (*entity.InvoiceSummary, error)
	FindSimilar(ctx context.Context, c entity.ExtractedFields) (*entity.InvoiceSummary, error)
	Lookup(ctx context.Context, c entity.CandidateInvoice) (Snapshot, error)
	Insert(ctx context.Context, c entity.CandidateInvoice) (string, error)
	Update(ctx context.Context, id string, c entity.CandidateInvoice) error
	Get(ctx context.Context, id string) (*entity.Invoice, error)
	List(ctx context.Context, from, to *time.Time) ([]*entity.Invoice, error)
}

type invoiceRepository struct {
	db     *DB
	policy dedup.SimilarityPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewInvoiceRepository(db *DB, policy dedup.SimilarityPolicy, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepository{db: db, policy: policy, logger: logger, now: time.Now}
}

type invoiceRow struct {
	ID               string         `db:"id"`
	Hash             string         `db:"hash_contenido"`
	Provider         string         `db:"proveedor_text"`
	Number           string         `db:"numero_factura"`
	IssueDate        string         `db:"fecha_emision"`
	Total            string         `db:"importe_total"`
	Base             sql.NullString `db:"base_imponible"`
	TaxTotal         sql.NullString `db:"impuestos_total"`
	VATRate          sql.NullString `db:"iva_porcentaje"`
	Currency         sql.NullString `db:"moneda"`
	Estado           string         `db:"estado"`
	Confianza        string         `db:"confianza"`
	Extractor        string         `db:"extractor"`
	ExtractorNumeros string         `db:"extractor_numeros"`
	ExtractorTexto   string         `db:"extractor_texto"`
	Discrepancias    sql.NullString `db:"discrepancias"`
	ErrorMsg         sql.NullString `db:"error_msg"`
	SourcePath       sql.NullString `db:"source_path"`
	SourceHash       sql.NullString `db:"source_hash"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (r *invoiceRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

func (r *invoiceRepository) selectInvoices() *entsql.Selector {
	b := r.builder()
	return b.Select(invoiceColumns...).From(b.Table(invoicesTable))
}

func (r *invoiceRepository) FindByHash(ctx context.Context, hash string) (*entity.InvoiceSummary, error) {
	return r.findByHash(ctx, r.db, hash)
}

func (r *invoiceRepository) findByHash(ctx context.Context, q queryer, hash string) (*entity.InvoiceSummary, error) {
	sel := r.selectInvoices().Where(entsql.EQ("hash_contenido", hash)).Limit(1)
	return r.getSummary(ctx, q, sel)
}

func (r *invoiceRepository) FindByNumber(ctx context.Context, provider, number string) (*entity.InvoiceSummary, error) {
	return r.findByNumber(ctx, r.db, provider, number)
}

func (r *invoiceRepository) findByNumber(ctx context.Context, q queryer, provider, number string) (*entity.InvoiceSummary, error) {
	sel := r.selectInvoices().
		Where(entsql.And(
			entsql.EQ("proveedor_norm", hasher.NormalizeText(provider)),
			entsql.EQ("numero_norm", hasher.NormalizeNumber(number)),
		)).
		OrderBy(entsql.Desc("updated_at")).
		Limit(1)
	return r.getSummary(ctx, q, sel)
}

func (r *invoiceRepository) FindSimilar(ctx context.Context, c entity.ExtractedFields) (*entity.InvoiceSummary, error) {
	return r.findSimilar(ctx, r.db, c)
}

// findSimilar narrows by amount (and date window when known) in SQL, then applies
// the similarity policy in Go. The oldest match wins so repeated runs are stable.
func (r *invoiceRepository) findSimilar(ctx context.Context, q queryer, c entity.ExtractedFields) (*entity.InvoiceSummary, error) {
	if c.Total == nil || c.Provider == nil {
		return nil, nil
	}
	policy := r.policy
	if policy.AmountTolerance.IsZero() {
		policy = dedup.DefaultSimilarityPolicy()
	}

	lo := toCents(c.Total.Sub(policy.AmountTolerance))
	hi := toCents(c.Total.Add(policy.AmountTolerance))
	preds := []*entsql.Predicate{
		entsql.GTE("importe_cents", lo),
		entsql.LTE("importe_cents", hi),
	}
	if c.Number != nil {
		preds = append(preds, entsql.NEQ("numero_norm", hasher.NormalizeNumber(*c.Number)))
	}
	if c.IssueDate != nil {
		window := policy.DateWindow
		preds = append(preds,
			entsql.GTE("fecha_emision", hasher.CanonicalDate(c.IssueDate.Add(-window))),
			entsql.LTE("fecha_emision", hasher.CanonicalDate(c.IssueDate.Add(window))),
		)
	}
	sel := r.selectInvoices().
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Limit(similarLimit)

	query, args := sel.Query()
	var rows []invoiceRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.Error("repo.find_similar.failed", "error", err)
		return nil, fmt.Errorf("%w: find similar: %w", common.ErrDatabase, err)
	}
	for _, row := range rows {
		s, err := row.summary()
		if err != nil {
			r.logger.Warn("repo.find_similar.bad_row", "id", row.ID, "error", err)
			continue
		}
		if policy.Matches(c, s) {
			return &s, nil
		}
	}
	return nil, nil
}

// Lookup reads the hash, number and similarity matches inside one transaction.
func (r *invoiceRepository) Lookup(ctx context.Context, c entity.CandidateInvoice) (Snapshot, error) {
	var snap Snapshot
	tx, err := r.db.BeginTxx(ctx, r.db.txOptions())
	if err != nil {
		return snap, fmt.Errorf("%w: begin lookup: %w", common.ErrDatabase, err)
	}
	defer func(tx *sqlx.Tx) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("repo.lookup.rollback_failed", "error", err)
		}
	}(tx)

	if c.HashContenido != "" {
		if snap.Hash, err = r.findByHash(ctx, tx, c.HashContenido); err != nil {
			return snap, err
		}
	}
	if c.Provider != nil && c.Number != nil {
		if snap.Number, err = r.findByNumber(ctx, tx, *c.Provider, *c.Number); err != nil {
			return snap, err
		}
	}
	if snap.Similar, err = r.findSimilar(ctx, tx, c.ExtractedFields); err != nil {
		return snap, err
	}
	if err := tx.Commit(); err != nil {
		return snap, fmt.Errorf("%w: commit lookup: %w", common.ErrDatabase, err)
	}
	return snap, nil
}

// Insert stores a complete candidate. A concurrent insert of the same hash
// surfaces as common.ErrConflict.
func (r *invoiceRepository) Insert(ctx context.Context, c entity.CandidateInvoice) (string, error) {
	vals, err := r.values(c)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := r.now().UTC().Format(time.RFC3339Nano)

	cols := []string{"id", "created_at", "updated_at"}
	args := []any{id, now, now}
	for _, v := range vals {
		cols = append(cols, v.col)
		args = append(args, v.val)
	}
	query, qargs := r.builder().Insert(invoicesTable).Columns(cols...).Values(args...).Query()
	if _, err := r.db.ExecContext(ctx, query, qargs...); err != nil {
		err = mapWriteError(err)
		r.logger.Error("repo.insert.failed", "hash", c.HashContenido, "error", err)
		return "", err
	}
	r.logger.Info("repo.insert.ok", "id", id, "hash", c.HashContenido, "estado", c.Estado)
	return id, nil
}

// Update overwrites the stored row with the candidate's fields.
func (r *invoiceRepository) Update(ctx context.Context, id string, c entity.CandidateInvoice) error {
	vals, err := r.values(c)
	if err != nil {
		return err
	}
	upd := r.builder().Update(invoicesTable).Set("updated_at", r.now().UTC().Format(time.RFC3339Nano))
	for _, v := range vals {
		upd = upd.Set(v.col, v.val)
	}
	query, args := upd.Where(entsql.EQ("id", id)).Query()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		err = mapWriteError(err)
		r.logger.Error("repo.update.failed", "id", id, "error", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	r.logger.Info("repo.update.ok", "id", id, "hash", c.HashContenido)
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*entity.Invoice, error) {
	query, args := r.selectInvoices().Where(entsql.EQ("id", id)).Query()
	var row invoiceRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get invoice: %w", common.ErrDatabase, err)
	}
	return row.invoice()
}

func (r *invoiceRepository) List(ctx context.Context, from, to *time.Time) ([]*entity.Invoice, error) {
	sel := r.selectInvoices()
	var preds []*entsql.Predicate
	if from != nil {
		preds = append(preds, entsql.GTE("fecha_emision", hasher.CanonicalDate(*from)))
	}
	if to != nil {
		preds = append(preds, entsql.LTE("fecha_emision", hasher.CanonicalDate(*to)))
	}
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	query, args := sel.OrderBy(entsql.Asc("fecha_emision"), entsql.Asc("id")).Query()

	var rows []invoiceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.Error("repo.list.failed", "error", err)
		return nil, fmt.Errorf("%w: list invoices: %w", common.ErrDatabase, err)
	}
	out := make([]*entity.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.invoice()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *invoiceRepository) getSummary(ctx context.Context, q queryer, sel *entsql.Selector) (*entity.InvoiceSummary, error) {
	query, args := sel.Query()
	var row invoiceRow
	if err := q.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	s, err := row.summary()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type colVal struct {
	col string
	val any
}

// values maps a candidate onto columns. Only hashable candidates are stored.
func (r *invoiceRepository) values(c entity.CandidateInvoice) ([]colVal, error) {
	if ok, why := hasher.ValidateHashCompleteness(c.ExtractedFields); !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidInput, why)
	}
	if c.HashContenido == "" {
		return nil, fmt.Errorf("%w: missing hash_contenido", common.ErrInvalidInput)
	}
	v := common.NewValidator().
		Field("proveedor_text", *c.Provider, common.MaxLength(maxProviderLen)).
		Field("numero_factura", *c.Number, common.MaxLength(maxNumberLen))
	if c.Currency != nil {
		v.Field("moneda", *c.Currency, common.CurrencyCode)
	}
	if err := v.Error(); err != nil {
		return nil, err
	}

	var disc any
	if len(c.Discrepancies) > 0 {
		b, err := json.Marshal(c.Discrepancies)
		if err != nil {
			return nil, err
		}
		disc = string(b)
	}
	return []colVal{
		{"hash_contenido", c.HashContenido},
		{"proveedor_text", *c.Provider},
		{"proveedor_norm", hasher.NormalizeText(*c.Provider)},
		{"numero_factura", *c.Number},
		{"numero_norm", hasher.NormalizeNumber(*c.Number)},
		{"fecha_emision", c.IssueDate.String()},
		{"importe_total", hasher.NormalizeAmount(*c.Total)},
		{"importe_cents", toCents(*c.Total)},
		{"base_imponible", amountOrNil(c.Base)},
		{"impuestos_total", amountOrNil(c.TaxTotal)},
		{"iva_porcentaje", amountOrNil(c.VATRate)},
		{"moneda", stringOrNil(c.Currency)},
		{"estado", string(c.Estado)},
		{"confianza", string(c.Confidence)},
		{"extractor", c.Extractor},
		{"extractor_numeros", c.ExtractorNumeros},
		{"extractor_texto", c.ExtractorTexto},
		{"discrepancias", disc},
		{"error_msg", stringOrNil(c.ErrorMsg)},
		{"source_path", c.SourcePath},
		{"source_hash", c.SourceHash},
	}, nil
}

func (row invoiceRow) summary() (entity.InvoiceSummary, error) {
	amount, err := decimal.NewFromString(row.Total)
	if err != nil {
		return entity.InvoiceSummary{}, fmt.Errorf("importe_total %q: %w", row.Total, err)
	}
	d, err := parseStoredDate(row.IssueDate)
	if err != nil {
		return entity.InvoiceSummary{}, err
	}
	return entity.InvoiceSummary{
		ID:       row.ID,
		Hash:     strings.TrimSpace(row.Hash),
		Provider: row.Provider,
		Number:   row.Number,
		Amount:   amount,
		Date:     d,
	}, nil
}

func (row invoiceRow) invoice() (*entity.Invoice, error) {
	s, err := row.summary()
	if err != nil {
		return nil, err
	}
	c := entity.CandidateInvoice{
		HashContenido:    s.Hash,
		Estado:           constants.Estado(row.Estado),
		Confidence:       constants.Confidence(row.Confianza),
		Extractor:        row.Extractor,
		ExtractorNumeros: row.ExtractorNumeros,
		ExtractorTexto:   row.ExtractorTexto,
		SourcePath:       row.SourcePath.String,
		SourceHash:       row.SourceHash.String,
	}
	c.Provider = &s.Provider
	c.Number = &s.Number
	c.IssueDate = &s.Date
	c.Total = &s.Amount
	c.Base = parseNullDecimal(row.Base)
	c.TaxTotal = parseNullDecimal(row.TaxTotal)
	c.VATRate = parseNullDecimal(row.VATRate)
	if row.Currency.Valid {
		cur := strings.TrimSpace(row.Currency.String)
		c.Currency = &cur
	}
	if row.ErrorMsg.Valid {
		msg := row.ErrorMsg.String
		c.ErrorMsg = &msg
	}
	if row.Discrepancias.Valid && row.Discrepancias.String != "" {
		if err := json.Unmarshal([]byte(row.Discrepancias.String), &c.Discrepancies); err != nil {
			return nil, fmt.Errorf("discrepancias for %s: %w", row.ID, err)
		}
	}

	inv := &entity.Invoice{ID: row.ID, Candidate: c}
	inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.CreatedAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, row.UpdatedAt)
	return inv, nil
}

// parseStoredDate accepts sqlite TEXT dates and postgres DATE values scanned as RFC3339.
func parseStoredDate(s string) (entity.Date, error) {
	if len(s) < len(entity.DateLayout) {
		return entity.Date{}, fmt.Errorf("fecha_emision %q: too short", s)
	}
	t, err := time.Parse(entity.DateLayout, s[:len(entity.DateLayout)])
	if err != nil {
		return entity.Date{}, fmt.Errorf("fecha_emision %q: %w", s, err)
	}
	return entity.NewDate(t), nil
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func amountOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return hasher.NormalizeAmount(*d)
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(hasher.AmountPlaces).Shift(hasher.AmountPlaces).IntPart()
}

// mapWriteError turns unique violations into the retryable conflict sentinel.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %w", common.ErrConflict, pgErr.ConstraintName, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", common.ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", common.ErrDatabase, err)
}
