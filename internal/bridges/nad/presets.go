package nad

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PresetNotSet is the preset detail reported when a preset number has no
// entry in the preset file.
const PresetNotSet = "not set"

// PresetResolver looks up the description of a tuner preset by its
// two-digit id ("07"). A nil resolver behaves as an empty file.
type PresetResolver interface {
	Lookup(key string) (string, bool)
}

// PresetEntry is one stored tuner slot.
type PresetEntry struct {
	Band      string `yaml:"band"`
	Frequency string `yaml:"frequency"`
	Name      string `yaml:"name"`
}

// Detail renders the entry for the presetDetail channel, e.g.
// "FM 101.10 Radio One".
func (e PresetEntry) Detail() string {
	parts := make([]string, 0, 3) //nolint:mnd // band, frequency, name
	for _, p := range []string{e.Band, e.Frequency, e.Name} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// PresetFile is a preset-name file loaded into memory.
//
// The file is a YAML map keyed by two-digit preset id:
//
//	"01": {band: FM, frequency: "101.10", name: Radio One}
//	"07": {band: AM, frequency: "909", name: Talk}
type PresetFile struct {
	path    string
	entries map[string]PresetEntry
}

var _ PresetResolver = (*PresetFile)(nil)

// LoadPresetFile reads and validates a preset file. A missing or malformed
// file is a configuration error.
func LoadPresetFile(path string) (*PresetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrPresetFile, path, err)
	}

	raw := make(map[string]PresetEntry)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrPresetFile, path, err)
	}

	entries := make(map[string]PresetEntry, len(raw))
	for key, entry := range raw {
		norm, err := normalisePresetKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPresetFile, path, err)
		}
		entries[norm] = entry
	}

	return &PresetFile{path: path, entries: entries}, nil
}

// normalisePresetKey accepts "7", "07" and returns "07".
func normalisePresetKey(key string) (string, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(key), "%d", &n); err != nil || n < 1 || n > 99 { //nolint:mnd // two-digit ids
		return "", fmt.Errorf("invalid preset id %q", key)
	}
	return PresetKey(n), nil
}

// Lookup returns the detail string for a two-digit preset id.
func (f *PresetFile) Lookup(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	e, ok := f.entries[key]
	if !ok {
		return "", false
	}
	return e.Detail(), true
}

// Len returns the number of presets in the file.
func (f *PresetFile) Len() int {
	if f == nil {
		return 0
	}
	return len(f.entries)
}

// ApplyNames copies preset names into a PresetNameList so the preset
// channel shows them as options.
func (f *PresetFile) ApplyNames(list *PresetNameList) {
	if f == nil || list == nil {
		return
	}
	for key, e := range f.entries {
		var n int
		if _, err := fmt.Sscanf(key, "%d", &n); err != nil || e.Name == "" {
			continue
		}
		_, _ = list.SetName(n, key+" "+e.Name) //nolint:errcheck // ids beyond the list size are ignored
	}
}

// PresetMap is an in-memory PresetResolver.
type PresetMap map[string]string

// Lookup implements PresetResolver.
func (m PresetMap) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}
