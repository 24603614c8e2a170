// Package export decides what propagates alongside an anonymized file:
// the whitelisted subset of container metadata, and the origin-id
// correlation that ties destination containers back to their source.
package export

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"deid-export/internal/template"
)

// infoBlacklist names info sub-keys that never propagate, even under an
// `info: all` whitelist.
var infoBlacklist = []string{"header"}

// HashID returns the SHA-1 hex digest of a container id, the correlation
// key stored at info.export.origin_id on destination containers.
func HashID(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

// CreateMetadata filters an origin container's fields down to what the
// profile whitelists for that container kind. Info-bucket keys pass
// through freely; metadata-bucket keys pass only when the fixed per-kind
// dictionary also allows them, and dropped requests are logged so
// operators can catch typos. The result always carries
// info.export.origin_id for correlation.
func CreateMetadata(kind string, origin map[string]any, cfg *template.ContainerConfig) (map[string]any, error) {
	id, _ := origin["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("%s container does not have an id", kind)
	}

	var wl template.Whitelist
	if cfg != nil {
		wl = cfg.Whitelist
	}

	info := map[string]any{}
	originInfo, _ := origin["info"].(map[string]any)
	if wl.InfoAll {
		for k, v := range originInfo {
			info[k] = v
		}
	} else {
		for k, v := range originInfo {
			if lo.Contains(wl.Info, k) {
				info[k] = v
			}
		}
	}
	for _, k := range infoBlacklist {
		delete(info, k)
	}
	info["export"] = map[string]any{"origin_id": HashID(id)}

	meta := map[string]any{"info": info}

	allowed := template.AllowedMetadataKeys(kind)
	granted := lo.Intersect(allowed, wl.Metadata)
	if dropped := lo.Without(wl.Metadata, granted...); len(dropped) > 0 {
		log.Infof("dropping metadata keys not propagatable for %s containers: %v", kind, dropped)
	}
	for _, key := range granted {
		if v, ok := origin[key]; ok && v != nil && v != "" {
			meta[key] = v
		}
	}
	return meta, nil
}
