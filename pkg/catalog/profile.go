package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
)

// ErrUnknownProfile is returned when switching to a profile that was never
// loaded.
var ErrUnknownProfile = errors.New("unknown profile")

// Profile is a named controller capability set: which MIDs the simulator
// advertises and which revisions it accepts for them.
type Profile struct {
	Name              string           `json:"name"`
	DisplayName       string           `json:"display_name"`
	Description       string           `json:"description"`
	SupportedMIDs     []string         `json:"supported_mids"`
	RevisionOverrides map[string][]int `json:"revision_overrides"`
	Notes             map[string]any   `json:"notes"`

	supported map[string]struct{}
}

// Supports reports whether the profile advertises the given MID.
func (p *Profile) Supports(mid string) bool {
	_, ok := p.supported[openprotocol.NormalizeMID(mid)]
	return ok
}

func (p *Profile) index() {
	p.supported = make(map[string]struct{}, len(p.SupportedMIDs))
	for i, mid := range p.SupportedMIDs {
		mid = openprotocol.NormalizeMID(mid)
		p.SupportedMIDs[i] = mid
		p.supported[mid] = struct{}{}
	}
}

// ProfileStore holds every loaded profile plus the active profile pointer.
// Switching profiles moves the pointer only; the catalog is never rebuilt.
//
// The store is safe for concurrent use: the TCP dispatcher reads it on every
// frame while the control plane (or the fsnotify watcher) may swap profiles.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	active   string
}

// NewProfileStore builds a store from parsed profiles. The requested active
// profile falls back to the first profile (by name order) when absent.
func NewProfileStore(profiles []*Profile, active string) (*ProfileStore, error) {
	if len(profiles) == 0 {
		return nil, errors.New("no profiles loaded")
	}
	byName := make(map[string]*Profile, len(profiles))
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		p.index()
		byName[p.Name] = p
		names = append(names, p.Name)
	}
	sort.Strings(names)
	if _, ok := byName[active]; !ok {
		active = names[0]
	}
	return &ProfileStore{profiles: byName, active: active}, nil
}

// LoadProfilesDir reads every *.json profile in a directory.
func LoadProfilesDir(dir, active string) (*ProfileStore, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var profiles []*Profile
	for _, file := range files {
		p, err := loadProfileFile(file)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles found in %s", dir)
	}
	return NewProfileStore(profiles, active)
}

func loadProfileFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("profile %s has no name", path)
	}
	return &p, nil
}

// Active returns the currently selected profile.
func (s *ProfileStore) Active() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.active]
}

// ActiveName returns the name of the active profile.
func (s *ProfileStore) ActiveName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive switches the active profile pointer.
func (s *ProfileStore) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	s.active = name
	return nil
}

// Get returns a profile by name.
func (s *ProfileStore) Get(name string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

// Names returns all profile names in ascending order.
func (s *ProfileStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every profile ordered by name.
func (s *ProfileStore) All() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Profile, 0, len(names))
	for _, name := range names {
		out = append(out, s.profiles[name])
	}
	return out
}

// Supports reports whether the active profile advertises the MID.
func (s *ProfileStore) Supports(mid string) bool {
	return s.Active().Supports(mid)
}

// EffectiveRevisions resolves the revision list for a MID under the active
// profile: profile override first, then the catalog definition, then [1].
func (s *ProfileStore) EffectiveRevisions(cat *Catalog, mid string) []int {
	mid = openprotocol.NormalizeMID(mid)
	if revs, ok := s.Active().RevisionOverrides[mid]; ok && len(revs) > 0 {
		return revs
	}
	if def, ok := cat.Get(mid); ok && len(def.SupportedRevisions) > 0 {
		return def.SupportedRevisions
	}
	return []int{1}
}

// Replace swaps the loaded profile set, keeping the active pointer when the
// profile still exists. Used by the hot-reload watcher.
func (s *ProfileStore) Replace(profiles []*Profile) error {
	if len(profiles) == 0 {
		return errors.New("no profiles to install")
	}
	byName := make(map[string]*Profile, len(profiles))
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		p.index()
		byName[p.Name] = p
		names = append(names, p.Name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = byName
	if _, ok := byName[s.active]; !ok {
		s.active = names[0]
	}
	return nil
}
