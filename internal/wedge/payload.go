package wedge

import "regexp"

// Normalizer reduces structured payloads to their last segment.
//
// A structured payload is a run of "(id)value" groups, such as a GS1 code
// "(01)00012345678905(21)SERIALNO1". With at least two groups the normalized
// value is the last group's id immediately followed by its value ("21SERIALNO1").
// Anything else, including a single group, passes through unchanged.
type Normalizer struct {
	re *regexp.Regexp
}

// NewNormalizer compiles a segment pattern with exactly two capture groups.
func NewNormalizer(pattern string) (*Normalizer, error) {
	re, err := compileSegmentPattern(pattern)
	if err != nil {
		return nil, err
	}
	return &Normalizer{re: re}, nil
}

// Segment is one (id, value) group of a structured payload.
type Segment struct {
	ID    string
	Value string
}

// Segments returns every group recognized in code.
func (n *Normalizer) Segments(code string) []Segment {
	matches := n.re.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return nil
	}
	segs := make([]Segment, len(matches))
	for i, m := range matches {
		segs[i] = Segment{ID: m[1], Value: m[2]}
	}
	return segs
}

// Normalize applies the last-segment rule.
func (n *Normalizer) Normalize(code string) string {
	segs := n.Segments(code)
	if len(segs) < 2 {
		return code
	}
	last := segs[len(segs)-1]
	return last.ID + last.Value
}
