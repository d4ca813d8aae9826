package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultCatalog(t *testing.T) {
	cat, err := LoadDefault()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, cat.Len(), 191)
	for _, mid := range []string{"0001", "0002", "0061", "0900", "2500", "9999"} {
		assert.True(t, cat.Contains(mid), "catalog should contain %s", mid)
	}
	assert.False(t, cat.Contains("1234"))
}

func TestCatalogNormalizesLookups(t *testing.T) {
	cat, err := LoadDefault()
	require.NoError(t, err)

	def, ok := cat.Get("1")
	require.True(t, ok)
	assert.Equal(t, "0001", def.MID)
	assert.Equal(t, CategorySession, def.Category)
	assert.Contains(t, def.SupportedRevisions, 7)
}

func TestCatalogOrderedListing(t *testing.T) {
	cat, err := Load(strings.NewReader(`[
		{"mid": "0061", "name": "b", "category": "event_or_data", "direction": "controller_to_integrator"},
		{"mid": "0001", "name": "a", "category": "session", "direction": "integrator_to_controller"}
	]`))
	require.NoError(t, err)

	assert.Equal(t, []string{"0001", "0061"}, cat.MIDs())
	assert.Equal(t, []int{1}, cat.All()[0].SupportedRevisions, "missing revisions default to [1]")
}

func TestLoadDefaultProfiles(t *testing.T) {
	store, err := LoadDefaultProfiles("atlas_pf")
	require.NoError(t, err)

	assert.Equal(t, "atlas_pf", store.ActiveName())
	assert.Contains(t, store.Names(), "cleco")
	assert.True(t, store.Supports("0060"))
}

func TestProfileFallbackWhenActiveUnknown(t *testing.T) {
	store, err := LoadDefaultProfiles("does_not_exist")
	require.NoError(t, err)

	assert.Equal(t, store.Names()[0], store.ActiveName())
}

func TestSetActiveUnknownProfile(t *testing.T) {
	store, err := LoadDefaultProfiles("atlas_pf")
	require.NoError(t, err)

	err = store.SetActive("nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Equal(t, "atlas_pf", store.ActiveName())
}

func TestEffectiveRevisions(t *testing.T) {
	cat, err := LoadDefault()
	require.NoError(t, err)
	store, err := LoadDefaultProfiles("cleco")
	require.NoError(t, err)

	// cleco overrides 0061 down to revisions 1-3.
	assert.Equal(t, []int{1, 2, 3}, store.EffectiveRevisions(cat, "0061"))
	// No override: catalog revisions apply.
	assert.Equal(t, []int{1, 2}, store.EffectiveRevisions(cat, "0013"))
	// Unknown MID falls back to [1].
	assert.Equal(t, []int{1}, store.EffectiveRevisions(cat, "1234"))
}

func TestProfileReplaceKeepsActiveWhenPresent(t *testing.T) {
	store, err := LoadDefaultProfiles("cleco")
	require.NoError(t, err)

	replacement := &Profile{Name: "cleco", SupportedMIDs: []string{"0001", "9999"}}
	require.NoError(t, store.Replace([]*Profile{replacement}))

	assert.Equal(t, "cleco", store.ActiveName())
	assert.True(t, store.Supports("9999"))
	assert.False(t, store.Supports("0060"))
}
