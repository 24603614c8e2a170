package export

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deid-export/internal/template"
)

// fakeLocator keeps containers in memory, keyed by kind/label.
type fakeLocator struct {
	containers map[string]map[string]any
	updates    int
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{containers: make(map[string]map[string]any)}
}

func (f *fakeLocator) Find(_ context.Context, kind, label, _ string) (map[string]any, error) {
	return f.containers[kind+"/"+label], nil
}

func (f *fakeLocator) Create(_ context.Context, kind, label string, metadata map[string]any) (map[string]any, error) {
	c := map[string]any{"id": uuid.NewString(), "label": label}
	for k, v := range metadata {
		c[k] = v
	}
	f.containers[kind+"/"+label] = c
	return c, nil
}

func (f *fakeLocator) Update(_ context.Context, kind, id string, metadata map[string]any) error {
	for _, c := range f.containers {
		if c["id"] == id {
			for k, v := range metadata {
				c[k] = v
			}
			f.updates++
			return nil
		}
	}
	return nil
}

func TestFindOrCreateCreatesOnFirstRun(t *testing.T) {
	loc := newFakeLocator()
	cfg := &template.ContainerConfig{
		Code: "ex1001",
		Whitelist: template.Whitelist{
			Metadata: []string{"firstname"},
		},
	}

	dest, err := FindOrCreate(context.Background(), loc, NewCorrelator(""), "subject", subjectOrigin(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "ex1001", dest["label"])
	assert.Equal(t, "Ada", dest["firstname"])
	assert.NotContains(t, dest, "lastname")
	assert.Equal(t, 0, loc.updates)

	info := dest["info"].(map[string]any)
	export := info["export"].(map[string]any)
	assert.Equal(t, HashID("5db0845e1c9e300019abc123"), export["origin_id"])
}

func TestFindOrCreateUpdatesExisting(t *testing.T) {
	loc := newFakeLocator()
	correlator := NewCorrelator("")
	cfg := &template.ContainerConfig{
		Code:      "ex1001",
		Whitelist: template.Whitelist{Metadata: []string{"firstname"}},
	}

	first, err := FindOrCreate(context.Background(), loc, correlator, "subject", subjectOrigin(), cfg)
	require.NoError(t, err)

	origin := subjectOrigin()
	origin["firstname"] = "Grace"
	second, err := FindOrCreate(context.Background(), loc, correlator, "subject", origin, cfg)
	require.NoError(t, err)

	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, 1, loc.updates)
	assert.Equal(t, "Grace", loc.containers["subject/ex1001"]["firstname"])
}

// Without a code or label override the origin's own label is used.
func TestFindOrCreateFallsBackToOriginLabel(t *testing.T) {
	loc := newFakeLocator()

	dest, err := FindOrCreate(context.Background(), loc, NewCorrelator(""), "subject", subjectOrigin(), nil)
	require.NoError(t, err)
	assert.Equal(t, "patient-007", dest["label"])
}

func TestFindOrCreateRequiresID(t *testing.T) {
	_, err := FindOrCreate(context.Background(), newFakeLocator(), NewCorrelator(""), "session", map[string]any{}, nil)
	assert.Error(t, err)
}
