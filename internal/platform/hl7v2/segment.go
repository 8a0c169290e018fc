package hl7v2

import (
	"errors"
	"strings"
)

// ErrNoPIDSegment is returned when a message contains no patient
// identification segment.
var ErrNoPIDSegment = errors.New(`hl7v2: no PID segment found; the message must contain a line starting with "PID"`)

// Segment is a single tokenized HL7 v2 segment line. Fields holds the raw
// pipe-split values with empty fields preserved; Fields[0] is the segment
// name itself, so the field numbers used by HL7 dictionaries (PID-3, PID-5)
// index directly into the slice.
type Segment struct {
	Name   string
	Fields []string
}

// SplitSegments splits raw message text into trimmed, non-empty segment
// lines. \r, \n and \r\n are all accepted as segment separators: HL7 v2
// transmits \r natively, but messages pasted from files or HTTP bodies
// usually arrive with \n or \r\n.
func SplitSegments(raw string) []string {
	text := strings.ReplaceAll(raw, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// FindSegment returns the first segment whose trimmed line starts with name,
// or nil when no such line exists. Splitting preserves empty fields:
// "PID|1||X" tokenizes to ["PID", "1", "", "X"], keeping positions stable.
func FindSegment(raw, name string) *Segment {
	for _, line := range SplitSegments(raw) {
		if strings.HasPrefix(line, name) {
			return &Segment{Name: name, Fields: strings.Split(line, "|")}
		}
	}
	return nil
}

// ParsePID tokenizes the first PID segment of a message. It is the entry
// point for patient data extraction and fails only with ErrNoPIDSegment.
func ParsePID(raw string) (*Segment, error) {
	seg := FindSegment(raw, "PID")
	if seg == nil {
		return nil, ErrNoPIDSegment
	}
	return seg, nil
}

// Field returns the trimmed field value at the given index, or "" when the
// segment has fewer fields. Sparse segments are valid input, so out-of-range
// access means "absent", never an error.
func (s *Segment) Field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return strings.TrimSpace(s.Fields[i])
}

// Component returns the trimmed caret-separated component j of field i,
// or "" when either index is out of range. Empty components are preserved
// during the split, so "^Amit" has an empty component 0 and "Amit" at 1.
func (s *Segment) Component(i, j int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	comps := strings.Split(s.Fields[i], "^")
	if j < 0 || j >= len(comps) {
		return ""
	}
	return strings.TrimSpace(comps[j])
}
