package catalog

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
)

//go:embed data/mid_catalog.json data/profiles/*.json
var defaultData embed.FS

// LoadDefault returns the catalog built from the embedded MID definitions.
func LoadDefault() (*Catalog, error) {
	raw, err := defaultData.ReadFile("data/mid_catalog.json")
	if err != nil {
		return nil, fmt.Errorf("embedded MID catalog: %w", err)
	}
	return Load(bytes.NewReader(raw))
}

// LoadDefaultProfiles returns a profile store built from the embedded
// profile definitions.
func LoadDefaultProfiles(active string) (*ProfileStore, error) {
	files, err := fs.Glob(defaultData, "data/profiles/*.json")
	if err != nil {
		return nil, err
	}
	var profiles []*Profile
	for _, file := range files {
		raw, err := defaultData.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var p Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("embedded profile %s: %w", file, err)
		}
		profiles = append(profiles, &p)
	}
	return NewProfileStore(profiles, active)
}
