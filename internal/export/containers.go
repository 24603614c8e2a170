package export

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"deid-export/internal/template"
)

// Locator is the minimal view of the destination container hierarchy the
// exporter needs. Implementations wrap the remote storage API; the
// exporter never talks to it directly.
type Locator interface {
	// Find returns the container of the given kind carrying the label and
	// origin-id correlation key, or nil when none exists.
	Find(ctx context.Context, kind, label, originID string) (map[string]any, error)
	// Create makes a new container and returns it.
	Create(ctx context.Context, kind, label string, metadata map[string]any) (map[string]any, error)
	// Update overwrites a container's whitelisted metadata.
	Update(ctx context.Context, kind, id string, metadata map[string]any) error
}

// FindOrCreate locates the destination container matching origin, or
// creates it, and in either case brings its metadata up to date with the
// whitelisted fields of the origin. The destination label comes from the
// profile's code/label override when present, falling back to the
// origin's own label, with the correlator keeping assignments stable
// across runs.
func FindOrCreate(ctx context.Context, loc Locator, correlator *Correlator, kind string, origin map[string]any, cfg *template.ContainerConfig) (map[string]any, error) {
	originID, _ := origin["id"].(string)
	if originID == "" {
		return nil, fmt.Errorf("%s container does not have an id", kind)
	}

	preferred := ""
	if cfg != nil {
		preferred = cfg.Code
		if preferred == "" {
			preferred = cfg.Label
		}
	}
	if preferred == "" {
		preferred, _ = origin["label"].(string)
	}
	label := correlator.Label(originID, preferred)

	meta, err := CreateMetadata(kind, origin, cfg)
	if err != nil {
		return nil, err
	}

	dest, err := loc.Find(ctx, kind, label, HashID(originID))
	if err != nil {
		return nil, fmt.Errorf("could not search for destination %s: %w", kind, err)
	}
	if dest == nil {
		log.Debugf("creating destination %s for (%s)", kind, originID)
		dest, err = loc.Create(ctx, kind, label, meta)
		if err != nil {
			return nil, fmt.Errorf("could not create destination %s: %w", kind, err)
		}
		return dest, nil
	}

	destID, _ := dest["id"].(string)
	log.Debugf("using destination %s (%s)", kind, destID)
	if err := loc.Update(ctx, kind, destID, meta); err != nil {
		return nil, fmt.Errorf("could not update destination %s: %w", kind, err)
	}
	return dest, nil
}
