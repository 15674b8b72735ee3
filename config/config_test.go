package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/marketplace"
)

func TestLoadProfileMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Contains(t, p.Marketplaces, "EBAY_DE")
	assert.Equal(t, 300, p.MaxResults)
	assert.Equal(t, 50, p.PageSize)
	assert.Equal(t, 0.92, p.Currencies["EUR"])
	assert.True(t, p.ImagesEnabled())
}

func TestLoadProfileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	t.Setenv("TEST_TERM", "Fulgurex")
	data := `
marketplaces: [EBAY_GB]
search_terms: ["${TEST_TERM}"]
page_size: 500
allow: []
currencies:
  USD: 1
  CHF: 0.88
fetch_images: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"EBAY_GB"}, p.Marketplaces)
	assert.Equal(t, []string{"Fulgurex"}, p.SearchTerms)
	assert.Equal(t, 200, p.PageSize, "page size is capped at the provider limit")
	assert.Empty(t, p.Allow, "an explicit empty allow list is kept")
	assert.Equal(t, map[string]float64{"USD": 1, "CHF": 0.88}, p.Currencies)
	assert.False(t, p.ImagesEnabled())
}

func TestLoadProfileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte("marketplaces: [unterminated"), 0o644))

	_, err := LoadProfile(path)
	assert.Error(t, err)
}

func TestLoadEnvAndValidate(t *testing.T) {
	t.Setenv("EBAY_CLIENT_ID", "")
	t.Setenv("EBAY_CLIENT_SECRET", "")
	t.Setenv("WATCH_LOOKAHEAD", "30m")
	t.Setenv("NTFY_URL", "https://ntfy.example.com/")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.WatchLookahead)
	assert.Equal(t, "https://ntfy.example.com", cfg.Notify.NtfyURL)
	assert.ErrorIs(t, cfg.Validate(), marketplace.ErrMissingCredentials)

	cfg.Ebay.ClientID = "id"
	cfg.Ebay.ClientSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
