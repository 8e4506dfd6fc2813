package chartdata

import "time"

// DateLayout is the canonical serialized form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar date with day precision, stored in its canonical
// "YYYY-MM-DD" form. The zero value ("") means no date.
type Date string

// NewDate truncates t to day precision.
func NewDate(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Today returns the current date in UTC.
func Today() Date {
	return NewDate(time.Now().UTC())
}

// ParseDate parses a canonical "YYYY-MM-DD" string.
func ParseDate(s string) (Date, bool) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", false
	}
	return NewDate(t), true
}

// Time returns the date as a UTC midnight timestamp. The zero Date
// yields the zero time.
func (d Date) Time() time.Time {
	if d == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) IsZero() bool {
	return d == ""
}

// Valid reports whether the date is a well-formed calendar date.
func (d Date) Valid() bool {
	_, err := time.Parse(DateLayout, string(d))
	return err == nil
}

func (d Date) String() string {
	return string(d)
}
