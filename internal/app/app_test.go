package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/internal/config"
	"gather/internal/engine"
	"gather/internal/migrate"
	"gather/internal/notify"
)

func TestOpenWiresWorkspace(t *testing.T) {
	dir := t.TempDir()
	yml := `links:
  base_url: https://plan.example
telemetry:
  metrics: true
notifications:
  log: true
  webhooks:
    - url: http://127.0.0.1:1/hook
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))

	var logs bytes.Buffer
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: dir, LogOutput: &logs})
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, "https://plan.example", a.Config.Links.BaseURL)
	assert.NotNil(t, a.Metrics)
	multi, ok := a.Engine.Notifier.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	v, err := migrate.Version(ctx, a.DB)
	require.NoError(t, err)
	assert.Positive(t, v)

	host, err := a.Engine.AddPerson(ctx, engine.PersonCreateOptions{Name: "Host"})
	require.NoError(t, err)
	_, err = a.Engine.CreateEvent(ctx, engine.EventCreateOptions{Name: "Picnic", HostID: host.ID})
	require.NoError(t, err)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("acknowledgement:\n  min_impact_length: 25\n"), 0o644))

	cfg, err := LoadConfig(t.TempDir(), path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Acknowledgement.MinImpactLength)

	_, err = LoadConfig(dir, filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing.yml"))
}

func TestNotifierWithoutSinksIsNop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Log = false
	_, ok := NewNotifier(cfg, zerolog.Nop()).(notify.Nop)
	assert.True(t, ok)
}
