package chartdata

import "encoding/json"

// ValueKind classifies a DataPoint value. Series whose points carry
// different kinds cannot be merged by replacement; the merge engine
// appends instead and reports a conflict.
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindNumber
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "empty"
	}
}

// KindOf classifies a single point value. JSON decoding produces
// float64 for numbers, but values assembled in process may carry any
// numeric Go type.
func KindOf(v any) ValueKind {
	switch v := v.(type) {
	case nil:
		return KindEmpty
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case json.Number:
		return KindNumber
	case string:
		if v == "" {
			return KindEmpty
		}
		return KindString
	default:
		return KindString
	}
}

// SeriesKind classifies a series by its first non-empty point value.
// A series with no points, or only empty values, is KindEmpty and
// merges with anything.
func SeriesKind(s ChartSeries) ValueKind {
	for _, p := range s.Points {
		if k := KindOf(p.Value); k != KindEmpty {
			return k
		}
	}
	return KindEmpty
}
