package deid

import (
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is a single entry in a Record: either a scalar value or a
// sequence of nested Records, never both.
type Element struct {
	Tag tag.Tag
	// VR is the DICOM value representation ("PN", "DA", "UI", "SQ", ...).
	VR string
	// Value holds the scalar payload in the reader's native shape
	// ([]string, []int, []float64, []byte, ...). Nil for sequences.
	Value any
	// Items holds the nested Records of a sequence element. Nil for scalars.
	Items []*Record
	// Source carries the reader's underlying element so the writer can
	// preserve encoding details. The engine never touches it.
	Source any
}

// IsSequence reports whether the element holds nested Records.
func (e *Element) IsSequence() bool {
	return e.Items != nil
}

// StringValue returns the first string of a string-typed element.
func (e *Element) StringValue() (string, bool) {
	ss, ok := e.Value.([]string)
	if !ok || len(ss) == 0 {
		return "", false
	}
	return ss[0], true
}

// SetStringValue overwrites the element with a single string value.
func (e *Element) SetStringValue(v string) {
	e.Value = []string{v}
}

// Record is one structured metadata record: an ordered mapping from Tag
// to Element. A Record nested inside a sequence element is itself a full
// Record.
type Record struct {
	elems map[tag.Tag]*Element
	order []tag.Tag
	// sealed marks the record finalized; no structural mutation after.
	sealed bool
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{elems: make(map[tag.Tag]*Element)}
}

// Get returns the element for t, if present.
func (r *Record) Get(t tag.Tag) (*Element, bool) {
	e, ok := r.elems[t]
	return e, ok
}

// Set inserts or overwrites the element for e.Tag, preserving the
// position of an existing entry.
func (r *Record) Set(e *Element) error {
	if r.sealed {
		return fmt.Errorf("record is finalized: %w", ErrFinalized)
	}
	if _, ok := r.elems[e.Tag]; !ok {
		r.order = append(r.order, e.Tag)
	}
	r.elems[e.Tag] = e
	return nil
}

// Delete removes the element for t. Deleting an absent tag is a no-op.
func (r *Record) Delete(t tag.Tag) error {
	if r.sealed {
		return fmt.Errorf("record is finalized: %w", ErrFinalized)
	}
	if _, ok := r.elems[t]; !ok {
		return nil
	}
	delete(r.elems, t)
	for i, o := range r.order {
		if o == t {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Tags returns the record's tags in insertion order.
func (r *Record) Tags() []tag.Tag {
	out := make([]tag.Tag, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of elements in the record.
func (r *Record) Len() int {
	return len(r.elems)
}

// Seal finalizes the record. Sealing cascades into sequence items so no
// part of the tree accepts further mutation.
func (r *Record) Seal() {
	r.sealed = true
	for _, e := range r.elems {
		for _, item := range e.Items {
			item.Seal()
		}
	}
}

// Sealed reports whether the record has been finalized.
func (r *Record) Sealed() bool {
	return r.sealed
}
