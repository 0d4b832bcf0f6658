package types

import (
	"fmt"
	"strings"
	"time"
)

// FloatingTimestamp is the Socrata floating timestamp layout used in SoQL literals.
const FloatingTimestamp = "2006-01-02T15:04:05.000"

var timestampLayouts = []string{
	FloatingTimestamp,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO-8601 shapes the open data API and snapshots produce.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

func ParseWindow(start, end string) (Window, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	w := Window{Start: s, End: e}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds must both be set")
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("window start %s must be before end %s",
			w.Start.Format(FloatingTimestamp), w.End.Format(FloatingTimestamp))
	}
	return nil
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// SoQL renders the window as a $where predicate on field.
func (w Window) SoQL(field string) string {
	return fmt.Sprintf("%s >= '%s' AND %s < '%s'",
		field, w.Start.UTC().Format(FloatingTimestamp),
		field, w.End.UTC().Format(FloatingTimestamp))
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.UTC().Format(FloatingTimestamp), w.End.UTC().Format(FloatingTimestamp))
}
