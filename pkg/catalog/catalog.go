// Package catalog loads the MID definition catalog and controller profiles
// that decide which Open Protocol messages the simulator advertises.
//
// Both are read from JSON: either the embedded defaults or an external data
// directory. The catalog is immutable after load; the profile store supports
// switching the active profile and hot reloading profile files.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
)

// Category classifies how the dispatcher treats a MID.
type Category string

const (
	CategorySession           Category = "session"
	CategoryRequest           Category = "request"
	CategoryReply             Category = "reply"
	CategoryCommand           Category = "command"
	CategorySubscriptionStart Category = "subscription_start"
	CategorySubscriptionStop  Category = "subscription_stop"
	CategoryAck               Category = "ack"
	CategoryEventOrData       Category = "event_or_data"
)

// Definition is one catalog entry describing a MID.
type Definition struct {
	MID                string         `json:"mid"`
	Name               string         `json:"name"`
	Category           Category       `json:"category"`
	Direction          string         `json:"direction"`
	SupportedRevisions []int          `json:"supported_revisions"`
	PayloadSchema      map[string]any `json:"payload_schema"`
	AckStrategy        string         `json:"ack_strategy"`
	ErrorRules         []string       `json:"error_rules"`
	ProfileOverrides   map[string]any `json:"profile_overrides"`
}

// Catalog is the immutable set of MID definitions, keyed by normalized MID.
type Catalog struct {
	entries map[string]Definition
	ordered []string
}

// Load reads a catalog from a JSON array of definitions.
func Load(r io.Reader) (*Catalog, error) {
	var defs []Definition
	if err := json.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode MID catalog: %w", err)
	}
	entries := make(map[string]Definition, len(defs))
	for _, d := range defs {
		d.MID = openprotocol.NormalizeMID(d.MID)
		if len(d.SupportedRevisions) == 0 {
			d.SupportedRevisions = []int{1}
		}
		entries[d.MID] = d
	}
	ordered := make([]string, 0, len(entries))
	for mid := range entries {
		ordered = append(ordered, mid)
	}
	sort.Strings(ordered)
	return &Catalog{entries: entries, ordered: ordered}, nil
}

// LoadFile reads a catalog from a JSON file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open MID catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Get returns the definition for a MID, normalizing the key first.
func (c *Catalog) Get(mid string) (Definition, bool) {
	d, ok := c.entries[openprotocol.NormalizeMID(mid)]
	return d, ok
}

// Contains reports whether the MID exists in the catalog.
func (c *Catalog) Contains(mid string) bool {
	_, ok := c.entries[openprotocol.NormalizeMID(mid)]
	return ok
}

// MIDs returns all MIDs in ascending order.
func (c *Catalog) MIDs() []string {
	out := make([]string, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// All returns every definition in ascending MID order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.ordered))
	for _, mid := range c.ordered {
		out = append(out, c.entries[mid])
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
