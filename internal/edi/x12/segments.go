// Package x12 encodes eligibility inquiries (270) and decodes eligibility
// responses (271) as delimited X12 segments.
package x12

import "strings"

// Delimiters for the fixed wire grammar. Producers iterate a fixed schema;
// encoding never depends on field-order flexibility.
const (
	ElementSeparator   = "*"
	SegmentTerminator  = "~"
	ComponentSeparator = ":"
	RepetitionChar     = "^"
)

// Segment is one delimited record. The first element identifies its type.
type Segment []string

// ID returns the segment type identifier.
func (s Segment) ID() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Element returns the i-th element, or "" when absent. Element 0 is the
// segment ID.
func (s Segment) Element(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

func (s Segment) String() string {
	return strings.Join(s, ElementSeparator) + SegmentTerminator
}

// Document is an ordered list of segments.
type Document []Segment

func (d Document) String() string {
	var b strings.Builder
	for _, s := range d {
		b.WriteString(s.String())
	}
	return b.String()
}

// ParseSegments splits a raw X12 payload into segments, dropping empty
// records and surrounding whitespace.
func ParseSegments(raw string) Document {
	var doc Document
	for _, rec := range strings.Split(raw, SegmentTerminator) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		doc = append(doc, Segment(strings.Split(rec, ElementSeparator)))
	}
	return doc
}
