package deid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustAddress(t *testing.T, raw string) Address {
	t.Helper()
	addr, err := ParseAddress(raw)
	require.NoError(t, err)
	return addr
}

func studyRecord(t *testing.T) *Record {
	t.Helper()
	rec := NewRecord()
	require.NoError(t, rec.Set(stringElement(tag.PatientID, "LO", "12345")))
	require.NoError(t, rec.Set(stringElement(tag.StationName, "SH", "MRI1")))
	require.NoError(t, rec.Set(stringElement(tag.StudyDate, "DA", "20200115")))
	require.NoError(t, rec.Set(stringElement(tag.AccessionNumber, "SH", "ACC001")))
	return rec
}

func TestAnonymizeEndToEnd(t *testing.T) {
	rules := []Rule{
		{Address: mustAddress(t, "PatientID"), Action: Action{Kind: ActionRemove}},
		{Address: mustAddress(t, "StationName"), Action: Action{Kind: ActionReplace, Replace: "XXXX"}},
		{Address: mustAddress(t, "StudyDate"), Action: Action{Kind: ActionIncrementDate}},
		{Address: mustAddress(t, "AccessionNumber"), Action: Action{Kind: ActionHash}},
	}
	engine := NewEngine(rules, Options{DateIncrement: -17})
	rec := studyRecord(t)

	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, out.State)
	assert.Equal(t, 4, out.Applied)
	assert.Empty(t, out.Skipped)

	_, ok := rec.Get(tag.PatientID)
	assert.False(t, ok, "PatientID removed")

	station, _ := rec.Get(tag.StationName)
	v, _ := station.StringValue()
	assert.Equal(t, "XXXX", v)

	date, _ := rec.Get(tag.StudyDate)
	v, _ = date.StringValue()
	assert.Equal(t, "20191229", v)

	acc, _ := rec.Get(tag.AccessionNumber)
	v, _ = acc.StringValue()
	assert.NotEqual(t, "ACC001", v)
	assert.Len(t, v, 16)
	assert.Equal(t, strings.ToUpper(v), v)
}

// Remove followed by resolve on the same address yields not-found.
func TestRemoveThenResolve(t *testing.T) {
	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "PatientID"), Action: Action{Kind: ActionRemove}},
	}, Options{})
	rec := studyRecord(t)

	_, err := engine.Anonymize(rec)
	require.NoError(t, err)

	_, err = Resolve(rec, mustAddress(t, "PatientID"))
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

// A rule addressing a tag inside a sequence without an index mutates
// every item identically.
func TestBroadcastAcrossSequenceItems(t *testing.T) {
	items := make([]*Record, 3)
	for i := range items {
		items[i] = NewRecord()
		require.NoError(t, items[i].Set(stringElement(tag.CodeValue, "SH", "T-A2000")))
	}
	rec := NewRecord()
	require.NoError(t, rec.Set(sequenceElement(tag.AnatomicRegionSequence, items...)))

	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "AnatomicRegionSequence.CodeValue"), Action: Action{Kind: ActionReplace, Replace: "REDACTED"}},
	}, Options{})
	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)

	for i, item := range items {
		elem, ok := item.Get(tag.CodeValue)
		require.True(t, ok)
		v, _ := elem.StringValue()
		assert.Equal(t, "REDACTED", v, "item %d", i)
	}
}

func TestIndexedRuleTouchesOnlyThatItem(t *testing.T) {
	item0 := NewRecord()
	require.NoError(t, item0.Set(stringElement(tag.CodeValue, "SH", "T-A2000")))
	item1 := NewRecord()
	require.NoError(t, item1.Set(stringElement(tag.CodeValue, "SH", "T-A2300")))
	rec := NewRecord()
	require.NoError(t, rec.Set(sequenceElement(tag.AnatomicRegionSequence, item0, item1)))

	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "AnatomicRegionSequence.0.CodeValue"), Action: Action{Kind: ActionReplace, Replace: "new SH value"}},
	}, Options{})
	_, err := engine.Anonymize(rec)
	require.NoError(t, err)

	v0, _ := mustGetString(t, item0, tag.CodeValue)
	assert.Equal(t, "new SH value", v0)
	v1, _ := mustGetString(t, item1, tag.CodeValue)
	assert.Equal(t, "T-A2300", v1)
}

func mustGetString(t *testing.T, rec *Record, tg tag.Tag) (string, bool) {
	t.Helper()
	elem, ok := rec.Get(tg)
	require.True(t, ok)
	return elem.StringValue()
}

// Rules apply strictly in declaration order; the last applicable rule
// for a tag wins.
func TestRuleOrderIsObservable(t *testing.T) {
	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "StationName"), Action: Action{Kind: ActionReplace, Replace: "first"}},
		{Address: mustAddress(t, "StationName"), Action: Action{Kind: ActionReplace, Replace: "second"}},
	}, Options{})
	rec := studyRecord(t)
	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Applied)

	v, _ := mustGetString(t, rec, tag.StationName)
	assert.Equal(t, "second", v)
}

func TestMissingTargetSkipsRuleOnly(t *testing.T) {
	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "PatientWeight"), Action: Action{Kind: ActionRemove}},
		{Address: mustAddress(t, "StationName"), Action: Action{Kind: ActionReplace, Replace: "XXXX"}},
	}, Options{})
	rec := studyRecord(t)

	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "PatientWeight", out.Skipped[0].Address)

	v, _ := mustGetString(t, rec, tag.StationName)
	assert.Equal(t, "XXXX", v)
}

func TestCoercionFailureLeavesElementUnchanged(t *testing.T) {
	rec := NewRecord()
	require.NoError(t, rec.Set(&Element{Tag: tag.Rows, VR: "US", Value: []int{512}}))

	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "Rows"), Action: Action{Kind: ActionReplace, Replace: "not-a-number"}},
	}, Options{})
	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Applied)
	require.Len(t, out.Skipped, 1)

	elem, _ := rec.Get(tag.Rows)
	assert.Equal(t, []int{512}, elem.Value)
}

func TestHashUIDRuleKeepsUIDShape(t *testing.T) {
	rec := NewRecord()
	uid := "1.2.840.113619.2.55.3.604688119.971.1601234567.123"
	require.NoError(t, rec.Set(stringElement(tag.SOPInstanceUID, "UI", uid)))

	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "SOPInstanceUID"), Action: Action{Kind: ActionHashUID, Prefix: 4, Suffix: 2}},
	}, Options{})
	_, err := engine.Anonymize(rec)
	require.NoError(t, err)

	v, _ := mustGetString(t, rec, tag.SOPInstanceUID)
	assert.True(t, strings.HasPrefix(v, "1.2.840.113619."))
	assert.True(t, strings.HasSuffix(v, ".1601234567.123"))
	assert.NotEqual(t, uid, v)
}

func TestAgeDerivedFromBirthDate(t *testing.T) {
	rec := NewRecord()
	require.NoError(t, rec.Set(stringElement(tag.StudyDate, "DA", "20200115")))
	require.NoError(t, rec.Set(stringElement(tag.PatientBirthDate, "DA", "19800115")))

	engine := NewEngine([]Rule{
		{Address: mustAddress(t, "PatientBirthDate"), Action: Action{Kind: ActionIncrementDate}},
	}, Options{DateIncrement: -17, AgeFromBirthDate: true, AgeUnits: "Y"})
	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Empty(t, out.Skipped)

	age, _ := mustGetString(t, rec, tag.PatientAge)
	assert.Equal(t, "040Y", age)

	birth, _ := mustGetString(t, rec, tag.PatientBirthDate)
	assert.Equal(t, "19791229", birth)
}

func TestAnonymizeRejectsFinalizedRecord(t *testing.T) {
	engine := NewEngine(nil, Options{})
	rec := studyRecord(t)

	out, err := engine.Anonymize(rec)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, out.State)
	assert.True(t, rec.Sealed())

	_, err = engine.Anonymize(rec)
	assert.ErrorIs(t, err, ErrFinalized)
}
