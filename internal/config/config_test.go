package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 90*24*time.Hour, cfg.Tokens.TTL.Duration)
	assert.Equal(t, 10, cfg.Acknowledgement.MinImpactLength)
	assert.False(t, cfg.Detection.ResolveStale)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, []string{"PROTEINS", "SIDES", "DESSERTS"}, cfg.ExpectedDomains("easter"))
	assert.Nil(t, cfg.ExpectedDomains("OTHER"))
}

func TestOverridesKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("tokens:\n  ttl: 48h\ndetection:\n  coverage:\n    BIRTHDAY: [DESSERTS]\n"))
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Tokens.TTL.Duration)
	assert.Equal(t, "http://localhost:3000", cfg.Links.BaseURL)
	assert.Equal(t, []string{"DESSERTS"}, cfg.ExpectedDomains("birthday"))
	assert.NotEmpty(t, cfg.ExpectedDomains("CHRISTMAS"))
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "tokens:\n  ttl: soon\n",
		"negative ttl":   "tokens:\n  ttl: -1h\n",
		"bad url":        "links:\n  base_url: not a url\n",
		"zero min":       "acknowledgement:\n  min_impact_length: 0\n",
		"bad level":      "logging:\n  level: loud\n",
		"base path":      "server:\n  base_path: v1\n",
		"dup domain":     "detection:\n  coverage:\n    EASTER: [SIDES, sides]\n",
		"webhook no url": "notifications:\n  webhooks:\n    - secret: x\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gather.yml"), []byte("links:\n  base_url: https://plan.example\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://plan.example", cfg.Links.BaseURL)
}
