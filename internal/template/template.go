// Package template parses and validates de-identification profiles.
//
// A profile is a YAML document with a `dicom` namespace holding the
// profile-wide options and the ordered field rule list, and an optional
// `export` namespace holding per-container whitelists. Profiles are
// parsed once per job and immutable afterwards.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"deid-export/internal/deid"
)

var (
	// ErrParse reports malformed profile syntax or an unknown action
	// keyword. Fatal: the job aborts before any record is processed.
	ErrParse = errors.New("template parse error")

	// ErrValidation reports a well-formed profile with invalid content,
	// such as a whitelist key outside the fixed metadata dictionary or an
	// index segment after a non-sequence tag. Fatal at validation time.
	ErrValidation = errors.New("template validation error")
)

// Profile is the parsed, validated template model.
type Profile struct {
	Name    string
	Options deid.Options
	Rules   []deid.Rule
	Export  ExportConfig
}

// ContainerConfig configures the export of one destination container
// kind: an optional renaming and the metadata whitelist.
type ContainerConfig struct {
	Code      string
	Label     string
	Whitelist Whitelist
}

// ExportConfig maps container kind to its export configuration.
type ExportConfig map[string]ContainerConfig

// Whitelist declares which container fields may propagate. Info keys are
// free-form; metadata keys are constrained to the fixed per-kind
// dictionary. The All flags correspond to the literal `all` in a profile.
type Whitelist struct {
	Info        []string
	InfoAll     bool
	Metadata    []string
	MetadataAll bool
}

// Empty reports whether the whitelist permits nothing.
func (w Whitelist) Empty() bool {
	return !w.InfoAll && !w.MetadataAll && len(w.Info) == 0 && len(w.Metadata) == 0
}

// raw YAML shapes. Decoding runs with KnownFields so an unknown action
// keyword in a field entry fails the parse.

type rawProfile struct {
	Name   string                  `yaml:"name,omitempty"`
	Dicom  rawDicom                `yaml:"dicom"`
	Export map[string]rawContainer `yaml:"export,omitempty"`
}

type rawDicom struct {
	DateIncrement    int        `yaml:"date-increment,omitempty"`
	AgeFromBirthDate bool       `yaml:"patient-age-from-birthdate,omitempty"`
	AgeUnits         string     `yaml:"patient-age-units,omitempty"`
	Fields           []rawField `yaml:"fields"`
}

type rawField struct {
	Name          string `yaml:"name"`
	Remove        bool   `yaml:"remove,omitempty"`
	ReplaceWith   any    `yaml:"replace-with,omitempty"`
	IncrementDate bool   `yaml:"increment-date,omitempty"`
	Hash          bool   `yaml:"hash,omitempty"`
	HashUID       bool   `yaml:"hashuid,omitempty"`
}

type rawContainer struct {
	Code      string       `yaml:"code,omitempty"`
	Label     string       `yaml:"label,omitempty"`
	Whitelist rawWhitelist `yaml:"whitelist,omitempty"`
}

type rawWhitelist struct {
	Info     keyList `yaml:"info,omitempty"`
	Metadata keyList `yaml:"metadata,omitempty"`
}

// keyList is a whitelist bucket: either an explicit key list or the
// literal `all`.
type keyList struct {
	All  bool
	Keys []string
}

func (k *keyList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.EqualFold(node.Value, "all") {
			k.All = true
			return nil
		}
		return fmt.Errorf("expected key list or \"all\", got %q", node.Value)
	case yaml.SequenceNode:
		return node.Decode(&k.Keys)
	}
	return fmt.Errorf("expected key list or \"all\"")
}

func (k keyList) MarshalYAML() (interface{}, error) {
	if k.All {
		return "all", nil
	}
	return k.Keys, nil
}

func (k keyList) IsZero() bool {
	return !k.All && len(k.Keys) == 0
}

// Load reads, parses and validates the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read profile: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a profile document.
func Parse(data []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw rawProfile
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return compile(raw)
}

func compile(raw rawProfile) (*Profile, error) {
	p := &Profile{
		Name: raw.Name,
		Options: deid.Options{
			DateIncrement:    raw.Dicom.DateIncrement,
			AgeFromBirthDate: raw.Dicom.AgeFromBirthDate,
			AgeUnits:         raw.Dicom.AgeUnits,
		},
	}

	for _, f := range raw.Dicom.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field entry without a name", ErrParse)
		}
		act, enabled, err := compileAction(f)
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}
		addr, err := deid.ParseAddress(f.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		p.Rules = append(p.Rules, deid.Rule{Address: addr, Action: act})
	}

	if raw.Export != nil {
		p.Export = make(ExportConfig, len(raw.Export))
		for kind, rc := range raw.Export {
			cc, err := compileContainer(kind, rc)
			if err != nil {
				return nil, err
			}
			p.Export[kind] = cc
		}
	}
	return p, nil
}

// compileAction maps a field entry to its action. A field must request
// exactly one action; a boolean action set to false disables the entry.
func compileAction(f rawField) (deid.Action, bool, error) {
	var actions []deid.Action
	if f.ReplaceWith != nil {
		actions = append(actions, deid.Action{Kind: deid.ActionReplace, Replace: scalarString(f.ReplaceWith)})
	}
	if f.Remove {
		actions = append(actions, deid.Action{Kind: deid.ActionRemove})
	}
	if f.IncrementDate {
		actions = append(actions, deid.Action{Kind: deid.ActionIncrementDate})
	}
	if f.Hash {
		actions = append(actions, deid.Action{Kind: deid.ActionHash})
	}
	if f.HashUID {
		actions = append(actions, deid.Action{
			Kind:   deid.ActionHashUID,
			Prefix: defaultUIDPrefix,
			Suffix: defaultUIDSuffix,
		})
	}
	switch len(actions) {
	case 0:
		// All boolean actions false (or absent): entry disabled.
		return deid.Action{}, false, nil
	case 1:
		return actions[0], true, nil
	}
	return deid.Action{}, false, fmt.Errorf("%w: field %q requests %d actions, want one", ErrParse, f.Name, len(actions))
}

// Structured identifiers keep their organizational-root prefix and type
// suffix stable; only the instance-identifying middle is hashed.
const (
	defaultUIDPrefix = 4
	defaultUIDSuffix = 2
)

func compileContainer(kind string, rc rawContainer) (ContainerConfig, error) {
	cc := ContainerConfig{
		Code:  rc.Code,
		Label: rc.Label,
		Whitelist: Whitelist{
			Info:        rc.Whitelist.Info.Keys,
			InfoAll:     rc.Whitelist.Info.All,
			Metadata:    rc.Whitelist.Metadata.Keys,
			MetadataAll: rc.Whitelist.Metadata.All,
		},
	}
	allowed := AllowedMetadataKeys(kind)
	if allowed == nil {
		return ContainerConfig{}, fmt.Errorf("%w: unknown export container kind %q", ErrValidation, kind)
	}
	for _, key := range cc.Whitelist.Metadata {
		if !containsKey(allowed, key) {
			return ContainerConfig{}, fmt.Errorf("%w: metadata key %q is not propagatable for %s containers", ErrValidation, key, kind)
		}
	}
	if cc.Whitelist.MetadataAll {
		cc.Whitelist.Metadata = append([]string(nil), allowed...)
		cc.Whitelist.MetadataAll = false
	}
	return cc, nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func scalarString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Dump serializes the profile back to its YAML surface form. Parsing the
// result yields an equivalent Profile.
func (p *Profile) Dump() ([]byte, error) {
	raw := rawProfile{
		Name: p.Name,
		Dicom: rawDicom{
			DateIncrement:    p.Options.DateIncrement,
			AgeFromBirthDate: p.Options.AgeFromBirthDate,
			AgeUnits:         p.Options.AgeUnits,
		},
	}
	for _, r := range p.Rules {
		f := rawField{Name: r.Address.String()}
		switch r.Action.Kind {
		case deid.ActionRemove:
			f.Remove = true
		case deid.ActionReplace:
			f.ReplaceWith = r.Action.Replace
		case deid.ActionIncrementDate:
			f.IncrementDate = true
		case deid.ActionHash:
			f.Hash = true
		case deid.ActionHashUID:
			f.HashUID = true
		}
		raw.Dicom.Fields = append(raw.Dicom.Fields, f)
	}
	if p.Export != nil {
		raw.Export = make(map[string]rawContainer, len(p.Export))
		for kind, cc := range p.Export {
			raw.Export[kind] = rawContainer{
				Code:  cc.Code,
				Label: cc.Label,
				Whitelist: rawWhitelist{
					Info:     keyList{All: cc.Whitelist.InfoAll, Keys: cc.Whitelist.Info},
					Metadata: keyList{Keys: cc.Whitelist.Metadata},
				},
			}
		}
	}
	return yaml.Marshal(raw)
}
