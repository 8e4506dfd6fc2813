// Package repair turns noisy text containing an array-of-records
// literal into clean records. The input is typically generated by an
// external text service and arrives in a C-like object-literal syntax:
// unquoted keys, single quotes, trailing commas, embedded comments,
// stray control characters. The repair chain is heuristic by design;
// it lives behind one narrow function so a stricter parser can replace
// it without touching the transform or merge layers.
package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vizorhq/vizor/internal/logging"
)

var (
	// isoDatePattern matches ISO-8601 dates and date-times. These are
	// protected behind placeholders before any quote or key rewriting
	// touches them, because the ':' in a time component looks exactly
	// like a key separator to the bare-key pass.
	isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`)

	// bareKeyPattern captures an unquoted key between a '{' or ',' and
	// the following ':'. Keys may contain spaces and symbols, e.g.
	// "Profit ($)".
	bareKeyPattern = regexp.MustCompile(`([{,]\s*)([^"'{}\[\],:\s][^"'{}\[\],:]*?)\s*:`)

	// singleQuoted matches a single-quoted string with escapes.
	singleQuoted = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	lineComment  = regexp.MustCompile(`(?m)//[^\n]*$`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Records extracts the best-effort list of flat records from text. It
// never fails: malformed input degrades to a partial or empty result,
// with failures logged. An empty result is valid output meaning "no
// data extracted".
func Records(logger *logging.Logger, text string) []map[string]any {
	if logger == nil {
		logger = logging.Nop()
	}

	body, ok := locateArray(text)
	if ok {
		if records, err := parseArray(body); err == nil {
			return records
		} else {
			logger.Warn("array parse failed, falling back to fragment recovery", "error", err)
		}
	} else {
		logger.Warn("no array literal found, falling back to fragment recovery")
	}

	records := recoverFragments(logger, text)
	if len(records) == 0 {
		logger.Warn("repair produced no records")
	}
	return records
}

// locateArray finds the outermost array literal. A declaration prefix
// like "const data =" is tolerated but not required.
func locateArray(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseArray(body string) ([]map[string]any, error) {
	cleaned := sanitize(body)

	var records []map[string]any
	if err := json.Unmarshal([]byte(cleaned), &records); err != nil {
		return nil, fmt.Errorf("unmarshal repaired array: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// sanitize runs the repair chain over one literal, returning text
// intended to be valid JSON.
func sanitize(s string) string {
	s = stripControlChars(s)
	s = blockComment.ReplaceAllString(s, "")
	s = lineComment.ReplaceAllString(s, "")

	s, dates := protectDates(s)

	s = singleQuoted.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return `"` + inner + `"`
	})

	s = bareKeyPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := bareKeyPattern.FindStringSubmatch(m)
		key := strings.TrimSpace(sub[2])
		key = strings.ReplaceAll(key, `"`, `\"`)
		return sub[1] + `"` + key + `":`
	})

	s = trailingComma.ReplaceAllString(s, "$1")

	s = restoreDates(s, dates)
	return s
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

const datePlaceholderFmt = "__vz_dt_%d__"

func protectDates(s string) (string, []string) {
	var dates []string
	out := isoDatePattern.ReplaceAllStringFunc(s, func(m string) string {
		dates = append(dates, m)
		return fmt.Sprintf(datePlaceholderFmt, len(dates)-1)
	})
	return out, dates
}

func restoreDates(s string, dates []string) string {
	for i, d := range dates {
		placeholder := fmt.Sprintf(datePlaceholderFmt, i)
		// A placeholder that ended up inside quotes restores bare;
		// an unquoted one must come back as a quoted string value.
		s = strings.ReplaceAll(s, `"`+placeholder+`"`, `"`+d+`"`)
		s = strings.ReplaceAll(s, placeholder, `"`+d+`"`)
	}
	return s
}

// recoverFragments is the last-resort path: pull out each balanced
// {...} fragment, repair and parse it in isolation, and keep whatever
// succeeds.
func recoverFragments(logger *logging.Logger, text string) []map[string]any {
	var records []map[string]any
	failed := 0
	for _, frag := range balancedFragments(text) {
		cleaned := sanitize(frag)
		var record map[string]any
		if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
			failed++
			continue
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}
	if failed > 0 {
		logger.Warn("fragment recovery skipped unparseable fragments",
			"recovered", len(records), "failed", failed)
	}
	return records
}

// balancedFragments scans for top-level {...} spans, tracking quotes
// so braces inside string values do not end a fragment early.
func balancedFragments(text string) []string {
	var frags []string
	depth := 0
	start := -1
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					frags = append(frags, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return frags
}
