package transform

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vizorhq/vizor/internal/chartdata"
)

var (
	numericShape = regexp.MustCompile(`^[+-]?[$€£¥]?\s*\d[\d,]*(?:\.\d+)?%?$`)

	yearMonthShape = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)
)

// localeDateLayouts are tried in order after the ISO shapes.
var localeDateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"2.1.2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// isNumericShaped reports whether s reads as a number, optionally with
// a currency symbol, thousands separators, or a trailing percent.
func isNumericShaped(s string) bool {
	return numericShape.MatchString(s)
}

// isDateShaped reports whether s reads as a calendar date in any of
// the recognized shapes.
func isDateShaped(s string) bool {
	_, ok := parseDateValue(s)
	return ok
}

// parseDateValue normalizes a date-shaped string to a canonical Date.
// Recognized shapes: YYYY-MM-DD, YYYY-MM (first of month), and a small
// set of locale layouts.
func parseDateValue(s string) (chartdata.Date, bool) {
	if d, ok := chartdata.ParseDate(s); ok {
		return d, true
	}
	if yearMonthShape.MatchString(s) {
		if t, err := time.Parse("2006-01", s); err == nil {
			return chartdata.NewDate(t), true
		}
	}
	for _, layout := range localeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return chartdata.NewDate(t), true
		}
	}
	return "", false
}

// leadingNumber extracts the number a string starts with, tolerating a
// currency symbol prefix and thousands separators: "$1,234.50" ->
// 1234.5, "42 units" -> 42. Strings that do not begin with a number
// are left alone.
func leadingNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for _, sym := range []string{"$", "€", "£", "¥"} {
		if strings.HasPrefix(s[i:], sym) {
			i += len(sym)
			break
		}
	}
	for i < len(s) && s[i] == ' ' {
		i++
	}

	start := i
	seenDigit := false
	seenDot := false
	for i < len(s) {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == ',' && seenDigit:
			// thousands separator
		case c == '.' && !seenDot:
			seenDot = true
		default:
			goto done
		}
		i++
	}
done:
	if !seenDigit {
		return 0, false
	}

	digits := strings.ReplaceAll(s[start:i], ",", "")
	digits = strings.TrimSuffix(digits, ".")
	n, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	if strings.HasPrefix(s, "-") {
		n = -n
	}
	return n, true
}
