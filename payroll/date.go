package payroll

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Day-granular calendar date (payroll has no sub-day semantics)
// =============================================================================

const dateLayout = "2006-01-02"

type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date { return NewDate(t.Year(), t.Month(), t.Day()) }

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func Today() Date { return DateOf(time.Now()) }

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }
func (d Date) String() string    { return d.Time.Format(dateLayout) }

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

func EndOfMonth(year int, month time.Month) Date {
	return Date{Time: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

// InValidity reports whether d falls in [start, end]. A nil end is open.
func InValidity(d, start Date, end *Date) bool {
	if d.Before(start) {
		return false
	}
	return end == nil || d.BeforeOrEqual(*end)
}

// =============================================================================
// PERIOD - A payroll month
// =============================================================================

type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func NewPeriod(year int, month time.Month) (Period, error) {
	p := Period{Year: year, Month: month}
	return p, p.Validate()
}

func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, int(p.Month))
	}
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// AsOf is the date every temporal lookup for the period resolves against:
// the last day of the month.
func (p Period) AsOf() Date { return EndOfMonth(p.Year, p.Month) }

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

// SeniorityYears is the fractional number of years between hire and asOf
// (days / 365.25), rounded to 4 places and never negative.
func SeniorityYears(hire, asOf Date) decimal.Decimal {
	if hire.IsZero() {
		return decimal.Zero
	}
	days := DaysBetween(hire, asOf)
	if days <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(days)).Div(decimal.RequireFromString("365.25")).Round(4)
}
