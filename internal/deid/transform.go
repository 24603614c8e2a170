package deid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// dateFormat is the DICOM DA value layout.
const dateFormat = "20060102"

// uidDelimiter separates the segments of a structured identifier.
const uidDelimiter = "."

// ActionKind enumerates the transformations a rule may request.
type ActionKind int

const (
	// ActionRemove deletes the element from its containing record.
	ActionRemove ActionKind = iota
	// ActionReplace overwrites the element's value with a literal.
	ActionReplace
	// ActionIncrementDate shifts a date element by the profile's day offset.
	ActionIncrementDate
	// ActionHash overwrites the element with a deterministic digest of
	// its current value.
	ActionHash
	// ActionHashUID hashes the middle segments of a structured
	// identifier, keeping its prefix and suffix segments verbatim.
	ActionHashUID
)

func (k ActionKind) String() string {
	switch k {
	case ActionRemove:
		return "remove"
	case ActionReplace:
		return "replace-with"
	case ActionIncrementDate:
		return "increment-date"
	case ActionHash:
		return "hash"
	case ActionHashUID:
		return "hashuid"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is the transformation half of a rule.
type Action struct {
	Kind    ActionKind
	Replace string // ActionReplace literal
	Prefix  int    // ActionHashUID: leading segments kept verbatim
	Suffix  int    // ActionHashUID: trailing segments kept verbatim
}

// Rule pairs an address with the action to apply there.
type Rule struct {
	Address Address
	Action  Action
}

// Options are the profile-wide settings consulted by transforms. They are
// immutable for the lifetime of a job and passed explicitly so transforms
// stay pure.
type Options struct {
	// DateIncrement is the signed day offset applied by increment-date.
	DateIncrement int
	// AgeFromBirthDate derives a patient age when the birth-date tag is
	// date-incremented.
	AgeFromBirthDate bool
	// AgeUnits is the DICOM age unit code: "Y", "M", "W" or "D".
	AgeUnits string
}

// IncrementDate shifts a DICOM DA value by days, which may be negative.
func IncrementDate(value string, days int) (string, error) {
	t, err := time.Parse(dateFormat, strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("could not parse date %q: %w", value, err)
	}
	return t.AddDate(0, 0, days).Format(dateFormat), nil
}

// HashValue computes the deterministic digest used for free-text
// identifiers: uppercase hex, truncated to 16 characters so it fits the
// short DICOM string representations.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:16]
}

// HashDigits computes a deterministic digest of value rendered as exactly
// n decimal digits, the charset permitted inside UID segments.
func HashDigits(value string, n int) string {
	var b strings.Builder
	input := value
	for b.Len() < n {
		sum := sha256.Sum256([]byte(input))
		b.WriteString(new(big.Int).SetBytes(sum[:]).String())
		input = input + "#"
	}
	return b.String()[:n]
}

// HashUID hashes the middle segments of a structured identifier, keeping
// the first prefix and last suffix segments verbatim. Each hashed middle
// segment keeps its original length so the identifier's shape survives.
// When the identifier has fewer than prefix+suffix segments the whole
// value is hashed instead; the second return reports that degradation.
func HashUID(value string, prefix, suffix int) (string, bool) {
	segments := strings.Split(value, uidDelimiter)
	if len(segments) < prefix+suffix {
		return HashDigits(value, 32), true
	}
	middle := segments[prefix : len(segments)-suffix]
	if len(middle) == 0 {
		return value, false
	}
	digits := HashDigits(strings.Join(middle, uidDelimiter), middleWidth(middle))
	offset := 0
	for i, seg := range middle {
		repl := digits[offset : offset+len(seg)]
		// UID segments must not carry a leading zero.
		if len(repl) > 1 && repl[0] == '0' {
			repl = "1" + repl[1:]
		}
		middle[i] = repl
		offset += len(seg)
	}
	return strings.Join(segments, uidDelimiter), false
}

func middleWidth(segments []string) int {
	n := 0
	for _, s := range segments {
		n += len(s)
	}
	return n
}

// DeriveAge computes a DICOM AS value (e.g. "045Y") from a birth date and
// a reference date, in the requested unit.
func DeriveAge(birth, reference, unit string) (string, error) {
	b, err := time.Parse(dateFormat, strings.TrimSpace(birth))
	if err != nil {
		return "", fmt.Errorf("could not parse birth date %q: %w", birth, err)
	}
	r, err := time.Parse(dateFormat, strings.TrimSpace(reference))
	if err != nil {
		return "", fmt.Errorf("could not parse reference date %q: %w", reference, err)
	}
	if r.Before(b) {
		return "", fmt.Errorf("reference date %q precedes birth date %q", reference, birth)
	}
	days := int(r.Sub(b).Hours() / 24)
	var n int
	switch unit {
	case "", "Y":
		unit = "Y"
		n = years(b, r)
	case "M":
		n = months(b, r)
	case "W":
		n = days / 7
	case "D":
		n = days
	default:
		return "", fmt.Errorf("unknown age unit %q", unit)
	}
	if n > 999 {
		n = 999
	}
	return fmt.Sprintf("%03d%s", n, unit), nil
}

func years(b, r time.Time) int {
	n := r.Year() - b.Year()
	if r.Month() < b.Month() || (r.Month() == b.Month() && r.Day() < b.Day()) {
		n--
	}
	return n
}

func months(b, r time.Time) int {
	n := (r.Year()-b.Year())*12 + int(r.Month()) - int(b.Month())
	if r.Day() < b.Day() {
		n--
	}
	return n
}

// CoerceValue converts literal into the shape of the element value it is
// replacing, so replace-with respects the target's declared type.
func CoerceValue(current any, literal string) (any, error) {
	switch current.(type) {
	case []string, nil:
		return []string{literal}, nil
	case []int:
		n, err := strconv.Atoi(strings.TrimSpace(literal))
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	case []float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil {
			return nil, err
		}
		return []float64{f}, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", current)
}
