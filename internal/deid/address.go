package deid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Segment is one step of an Address: either a tag to look up in the
// current record, or an index selecting an item of the preceding
// sequence element.
type Segment struct {
	Tag     tag.Tag
	Index   int
	IsIndex bool
}

// Address locates an element inside a Record, possibly nested. It is the
// compiled form of the three surface syntaxes a template may use:
//
//	PatientID                            symbolic name
//	00100020 or (0010,0020)              numeric tag
//	AnatomicRegionSequence.0.CodeValue   dotted path with sequence indices
//
// Symbolic names are resolved against the DICOM dictionary at parse time;
// resolution afterwards operates on numeric tags only.
type Address struct {
	raw      string
	segments []Segment
}

// String returns the address as written in the template.
func (a Address) String() string { return a.raw }

// Segments returns the compiled path segments.
func (a Address) Segments() []Segment { return a.segments }

// ParseAddress compiles a rule address. Composition errors (an index in
// a position that cannot follow a sequence element) are reported here so
// templates fail before any record is processed.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	parts := splitAddress(raw)
	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if idx, ok := parseIndex(part); ok {
			if i == 0 {
				return Address{}, fmt.Errorf("address %q: index %d cannot start a path", raw, idx)
			}
			prev := segments[len(segments)-1]
			if prev.IsIndex {
				return Address{}, fmt.Errorf("address %q: index %d cannot follow another index", raw, idx)
			}
			if info, err := tag.Find(prev.Tag); err == nil && info.VR != "SQ" {
				return Address{}, fmt.Errorf("address %q: index %d follows non-sequence tag %s", raw, idx, prev.Tag)
			}
			segments = append(segments, Segment{Index: idx, IsIndex: true})
			continue
		}
		t, err := parseTag(part)
		if err != nil {
			return Address{}, fmt.Errorf("address %q: %w", raw, err)
		}
		segments = append(segments, Segment{Tag: t})
	}
	if segments[len(segments)-1].IsIndex {
		return Address{}, fmt.Errorf("address %q: path cannot end with an index", raw)
	}
	return Address{raw: raw, segments: segments}, nil
}

// splitAddress splits on periods while keeping "(gggg,eeee)" groups
// intact; the pair form never contains a period so a plain split works.
func splitAddress(raw string) []string {
	return strings.Split(raw, ".")
}

// parseIndex recognizes a non-negative sequence index: a short run of
// decimal digits. Eight hex digits always denote a numeric tag instead.
func parseIndex(s string) (int, bool) {
	if s == "" || len(s) >= 8 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseTag parses one tag segment in any of its surface forms.
func parseTag(s string) (tag.Tag, error) {
	if s == "" {
		return tag.Tag{}, fmt.Errorf("empty path segment")
	}
	// (gggg,eeee) or [gggg,eeee]
	if (s[0] == '(' && s[len(s)-1] == ')') || (s[0] == '[' && s[len(s)-1] == ']') {
		body := s[1 : len(s)-1]
		parts := strings.Split(body, ",")
		if len(parts) != 2 {
			return tag.Tag{}, fmt.Errorf("malformed tag pair %q", s)
		}
		group, err := parseHex16(strings.TrimSpace(parts[0]))
		if err != nil {
			return tag.Tag{}, fmt.Errorf("malformed tag pair %q: %w", s, err)
		}
		elem, err := parseHex16(strings.TrimSpace(parts[1]))
		if err != nil {
			return tag.Tag{}, fmt.Errorf("malformed tag pair %q: %w", s, err)
		}
		return tag.Tag{Group: group, Element: elem}, nil
	}
	// Concatenated 8-hex-digit form.
	if len(s) == 8 {
		if group, err := parseHex16(s[:4]); err == nil {
			if elem, err := parseHex16(s[4:]); err == nil {
				return tag.Tag{Group: group, Element: elem}, nil
			}
		}
	}
	// Symbolic name via the dictionary.
	info, err := tag.FindByName(s)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("unknown tag name %q", s)
	}
	return info.Tag, nil
}

func parseHex16(s string) (uint16, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("expected 4 hex digits, got %q", s)
	}
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// Target is a resolved rule destination: the record that contains the
// element and the tag identifying it there.
type Target struct {
	Record *Record
	Tag    tag.Tag
}

// Resolve walks addr from root and returns every (record, tag) pair the
// final segment denotes. An intermediate sequence element with no
// following index fans out across all of its items, so one address can
// denote the same tag in several nested records at once.
func Resolve(root *Record, addr Address) ([]Target, error) {
	recs := []*Record{root}
	segs := addr.segments
	sawOutOfRange := false

	i := 0
	for i < len(segs) {
		seg := segs[i]
		if i == len(segs)-1 {
			var targets []Target
			for _, rec := range recs {
				if _, ok := rec.Get(seg.Tag); ok {
					targets = append(targets, Target{Record: rec, Tag: seg.Tag})
				}
			}
			if len(targets) == 0 {
				return nil, fmt.Errorf("%s: %w", addr, ErrAddressNotFound)
			}
			return targets, nil
		}

		var hasIndex bool
		var index int
		advance := 1
		if segs[i+1].IsIndex {
			hasIndex = true
			index = segs[i+1].Index
			advance = 2
		}

		var next []*Record
		for _, rec := range recs {
			elem, ok := rec.Get(seg.Tag)
			if !ok || !elem.IsSequence() {
				continue
			}
			if hasIndex {
				if index >= len(elem.Items) {
					sawOutOfRange = true
					continue
				}
				next = append(next, elem.Items[index])
			} else {
				next = append(next, elem.Items...)
			}
		}
		if len(next) == 0 {
			if sawOutOfRange {
				return nil, fmt.Errorf("%s: %w", addr, ErrIndexOutOfRange)
			}
			return nil, fmt.Errorf("%s: %w", addr, ErrAddressNotFound)
		}
		recs = next
		i += advance
	}
	return nil, fmt.Errorf("%s: %w", addr, ErrAddressNotFound)
}
