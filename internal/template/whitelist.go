package template

// metadataDictionary is the fixed set of non-info container fields that
// may ever propagate to a destination container. It is not user
// configurable; a profile requesting a metadata key outside this table
// fails validation.
var metadataDictionary = map[string][]string{
	"acquisition": {"timestamp", "timezone", "uid"},
	"subject":     {"firstname", "lastname", "sex", "cohort", "ethnicity", "race", "species", "strain"},
	"session":     {"age", "operator", "timestamp", "timezone", "uid", "weight"},
}

// AllowedMetadataKeys returns the propagatable metadata keys for a
// container kind, or nil for an unknown kind.
func AllowedMetadataKeys(kind string) []string {
	keys, ok := metadataDictionary[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// ContainerKinds returns the container kinds with a metadata dictionary.
func ContainerKinds() []string {
	return []string{"acquisition", "subject", "session"}
}
