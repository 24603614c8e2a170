package deid

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// State tracks one record through the engine.
type State int

const (
	StateLoaded State = iota
	StateTransforming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateTransforming:
		return "transforming"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Skip records a rule that did not apply to a record and why.
type Skip struct {
	Address string
	Reason  string
}

// Outcome summarizes one record's pass through the engine. Skips and
// warnings never abort the job; they are surfaced in the status report.
type Outcome struct {
	State    State
	Applied  int
	Skipped  []Skip
	Warnings []string
}

func (o *Outcome) skip(addr Address, err error) {
	o.Skipped = append(o.Skipped, Skip{Address: addr.String(), Reason: err.Error()})
	log.Warnf("skipping rule %s: %v", addr, err)
}

func (o *Outcome) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.Warnings = append(o.Warnings, msg)
	log.Info(msg)
}

// referenceDateTags are consulted in order when deriving a patient age;
// the first date present in the record anchors the computation.
var referenceDateTags = []tag.Tag{
	tag.StudyDate,
	tag.SeriesDate,
	tag.AcquisitionDate,
	tag.ContentDate,
}

// Engine applies a profile's rule list to records. A single Engine is
// immutable after construction and safe to share across workers.
type Engine struct {
	rules []Rule
	opts  Options
}

// NewEngine builds an engine for one parsed profile.
func NewEngine(rules []Rule, opts Options) *Engine {
	return &Engine{rules: rules, opts: opts}
}

// Anonymize applies the rule list to rec strictly in declaration order
// and finalizes the record. Rules whose address does not resolve are
// skipped for this record only. An address that resolves into a sequence
// without a trailing index applies to every item of that sequence.
func (e *Engine) Anonymize(rec *Record) (*Outcome, error) {
	if rec.Sealed() {
		return nil, fmt.Errorf("cannot anonymize: %w", ErrFinalized)
	}
	out := &Outcome{State: StateTransforming}

	for _, rule := range e.rules {
		targets, err := Resolve(rec, rule.Address)
		if err != nil {
			if errors.Is(err, ErrAddressNotFound) || errors.Is(err, ErrIndexOutOfRange) {
				out.skip(rule.Address, err)
				continue
			}
			return nil, err
		}
		applied := false
		for _, tgt := range targets {
			if err := e.apply(rec, tgt, rule.Action, out); err != nil {
				var cerr *CoercionError
				if errors.As(err, &cerr) {
					out.skip(rule.Address, err)
					continue
				}
				return nil, fmt.Errorf("rule %s: %w", rule.Address, err)
			}
			applied = true
		}
		if applied {
			out.Applied++
		}
	}

	rec.Seal()
	out.State = StateFinalized
	return out, nil
}

// apply mutates one resolved target. root is the top-level record, needed
// for age derivation even when the target sits inside a sequence.
func (e *Engine) apply(root *Record, tgt Target, act Action, out *Outcome) error {
	switch act.Kind {
	case ActionRemove:
		return tgt.Record.Delete(tgt.Tag)

	case ActionReplace:
		elem, ok := tgt.Record.Get(tgt.Tag)
		if !ok {
			return fmt.Errorf("%s: %w", tgt.Tag, ErrAddressNotFound)
		}
		coerced, err := CoerceValue(elem.Value, act.Replace)
		if err != nil {
			return &CoercionError{Tag: tgt.Tag, VR: elem.VR, Value: act.Replace, Want: fmt.Sprintf("%T", elem.Value)}
		}
		elem.Value = coerced
		return nil

	case ActionIncrementDate:
		elem, ok := tgt.Record.Get(tgt.Tag)
		if !ok {
			return fmt.Errorf("%s: %w", tgt.Tag, ErrAddressNotFound)
		}
		val, ok := elem.StringValue()
		if !ok {
			return &CoercionError{Tag: tgt.Tag, VR: elem.VR, Value: fmt.Sprintf("%v", elem.Value), Want: "date string"}
		}
		if e.opts.AgeFromBirthDate && tgt.Tag == tag.PatientBirthDate {
			e.deriveAge(root, val, out)
		}
		shifted, err := IncrementDate(val, e.opts.DateIncrement)
		if err != nil {
			return &CoercionError{Tag: tgt.Tag, VR: elem.VR, Value: val, Want: "date"}
		}
		elem.SetStringValue(shifted)
		return nil

	case ActionHash:
		elem, ok := tgt.Record.Get(tgt.Tag)
		if !ok {
			return fmt.Errorf("%s: %w", tgt.Tag, ErrAddressNotFound)
		}
		val, ok := elem.StringValue()
		if !ok {
			return &CoercionError{Tag: tgt.Tag, VR: elem.VR, Value: fmt.Sprintf("%v", elem.Value), Want: "string"}
		}
		if elem.VR == "UI" {
			elem.SetStringValue(HashDigits(val, uidHashLength(len(val))))
		} else {
			elem.SetStringValue(HashValue(val))
		}
		return nil

	case ActionHashUID:
		elem, ok := tgt.Record.Get(tgt.Tag)
		if !ok {
			return fmt.Errorf("%s: %w", tgt.Tag, ErrAddressNotFound)
		}
		val, ok := elem.StringValue()
		if !ok {
			return &CoercionError{Tag: tgt.Tag, VR: elem.VR, Value: fmt.Sprintf("%v", elem.Value), Want: "string"}
		}
		hashed, degraded := HashUID(val, act.Prefix, act.Suffix)
		if degraded {
			out.warn("identifier %s has fewer than %d segments; hashed whole value", tgt.Tag, act.Prefix+act.Suffix)
		}
		elem.SetStringValue(hashed)
		return nil
	}
	return fmt.Errorf("unknown action kind %v", act.Kind)
}

// deriveAge writes the patient age computed from the original birth date
// and the record's reference acquisition date.
func (e *Engine) deriveAge(root *Record, birth string, out *Outcome) {
	var ref string
	for _, t := range referenceDateTags {
		if elem, ok := root.Get(t); ok {
			if v, ok := elem.StringValue(); ok && v != "" {
				ref = v
				break
			}
		}
	}
	if ref == "" {
		out.warn("no reference date in record; patient age not derived")
		return
	}
	age, err := DeriveAge(birth, ref, e.opts.AgeUnits)
	if err != nil {
		out.warn("patient age not derived: %v", err)
		return
	}
	elem, ok := root.Get(tag.PatientAge)
	if !ok {
		elem = &Element{Tag: tag.PatientAge, VR: "AS"}
		root.Set(elem)
	}
	elem.SetStringValue(age)
}

// uidHashLength bounds the digest length for whole-UID hashing to the
// 64-character UID limit.
func uidHashLength(n int) int {
	if n < 16 {
		return 16
	}
	if n > 64 {
		return 64
	}
	return n
}
