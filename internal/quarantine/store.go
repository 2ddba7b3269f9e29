package quarantine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = common.ErrNotFound

// Entry is one candidate awaiting human review.
type Entry struct {
	Key           string                  `json:"key"`
	Candidate     entity.CandidateInvoice `json:"candidate"`
	Reason        string                  `json:"reason"`
	Decision      constants.Decision      `json:"decision"`
	MatchedIDs    []string                `json:"matched_ids,omitempty"`
	QuarantinedAt time.Time               `json:"quarantined_at"`
}

// Month groups entries by the invoice's issue month, falling back to the
// month it was quarantined in.
func (e Entry) Month() string {
	if e.Candidate.IssueDate != nil && !e.Candidate.IssueDate.IsZero() {
		return e.Candidate.IssueDate.Month()
	}
	return e.QuarantinedAt.UTC().Format("2006-01")
}

// Store is a durable review area. Write overwrites any entry with the same key.
type Store interface {
	Write(ctx context.Context, e Entry) error
	Get(ctx context.Context, key string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, key string) error
}

// KeyFor returns the identity hash when there is one, then a key derived from the
// source file hash, then a random key. The first two keep repeated writes for the
// same unresolved input on one entry.
func KeyFor(c entity.CandidateInvoice) string {
	if c.HashContenido != "" {
		return c.HashContenido
	}
	if c.SourceHash != "" {
		return "src-" + c.SourceHash
	}
	if c.SourcePath != "" {
		sum := sha256.Sum256([]byte(c.SourcePath))
		return "path-" + hex.EncodeToString(sum[:])
	}
	return uuid.NewString()
}

// NewEntry builds an entry stamped with now.
func NewEntry(c entity.CandidateInvoice, decision constants.Decision, reason string, matched []string, now time.Time) Entry {
	return Entry{
		Key:           KeyFor(c),
		Candidate:     c,
		Reason:        reason,
		Decision:      decision,
		MatchedIDs:    matched,
		QuarantinedAt: now.UTC(),
	}
}

// GroupByMonth buckets entries by Month and returns the months in ascending order.
// Entries inside a month are ordered by quarantine time, then key.
func GroupByMonth(entries []Entry) (map[string][]Entry, []string) {
	groups := make(map[string][]Entry)
	for _, e := range entries {
		m := e.Month()
		groups[m] = append(groups[m], e)
	}
	months := make([]string, 0, len(groups))
	for m, es := range groups {
		months = append(months, m)
		sort.SliceStable(es, func(i, j int) bool {
			if !es[i].QuarantinedAt.Equal(es[j].QuarantinedAt) {
				return es[i].QuarantinedAt.Before(es[j].QuarantinedAt)
			}
			return es[i].Key < es[j].Key
		})
	}
	sort.Strings(months)
	return groups, months
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validKey(key string) error {
	v := common.NewValidator().Field("key", key, common.StorageKey)
	return v.Error()
}
