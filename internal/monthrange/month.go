package monthrange

import (
	"fmt"
	"time"
)

// Month is a calendar month without a day component.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month { return Month{Year: t.Year(), Month: t.Month()} }

func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }

func fromIndex(i int) Month {
	y := i / 12
	mo := i % 12
	if mo < 0 {
		mo += 12
		y--
	}
	return Month{Year: y, Month: time.Month(mo + 1)}
}

func (m Month) Add(n int) Month { return fromIndex(m.index() + n) }
func (m Month) Before(o Month) bool { return m.index() < o.index() }
func (m Month) After(o Month) bool { return m.index() > o.index() }
func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }
func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Month) UnmarshalText(b []byte) error {
	v, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Time is the first instant of the month in UTC.
func (m Month) Time() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// MonthsBetween counts months from a to b, negative when b precedes a.
func MonthsBetween(a, b Month) int { return b.index() - a.index() }

// Span lists every month from a to b inclusive; empty when b precedes a.
func Span(a, b Month) []Month {
	n := MonthsBetween(a, b) + 1
	if n <= 0 {
		return nil
	}
	out := make([]Month, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, a.Add(i))
	}
	return out
}

// Range is the window of months retained for a branch. End never precedes Start.
type Range struct {
	BranchID string `json:"branch_id"`
	ClientID string `json:"client_id"`
	Start    Month  `json:"start_month"`
	End      Month  `json:"end_month"`
}

func (r Range) Width() int { return MonthsBetween(r.Start, r.End) + 1 }
func (r Range) Months() []Month { return Span(r.Start, r.End) }

func (r Range) Contains(m Month) bool { return !m.Before(r.Start) && !m.After(r.End) }
