package entity

import (
	"encoding/json"
	"time"
)

// DateLayout is the canonical calendar date format at every boundary.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to midnight UTC.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// DatePtr is a convenience for building optional dates.
func DatePtr(t time.Time) *Date {
	d := NewDate(t)
	return &d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Month returns the YYYY-MM bucket of the date.
func (d Date) Month() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return err
	}
	*d = NewDate(t)
	return nil
}
