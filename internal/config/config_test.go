package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplateDefaults(t *testing.T) {
	cfg, err := Parse([]byte(configTemplate))
	require.NoError(t, err)

	assert.Equal(t, Default().Delivery, cfg.Delivery)
	assert.Equal(t, Default().Reconcile, cfg.Reconcile)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "/sessions", cfg.Backend.SessionsPath)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Empty(t, cfg.Sections)
}

func TestParseSectionsAndPartialFile(t *testing.T) {
	data := []byte(`// only a few keys
{
  "backend": {"base_url": "https://flow.example.com"},
  "delivery": {"flush_interval": "45s"},
  "sections": [
    {"name": "assembly", "endpoint": "/assembly/actions"},
    {"name": "paint", "endpoint": "/paint/actions", "queue_key": "p.q", "shadow_key": "p.s"}
  ]
}`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "https://flow.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Delivery.FlushInterval)
	assert.Equal(t, DefaultBackoffCap, cfg.Delivery.BackoffCap)
	require.Len(t, cfg.Sections, 2)

	assert.Equal(t, "assembly.queue", cfg.Sections[0].QueueStorageKey())
	assert.Equal(t, "assembly.sessions", cfg.Sections[0].ShadowStorageKey())
	assert.Equal(t, "p.q", cfg.Sections[1].QueueStorageKey())
	assert.Equal(t, "p.s", cfg.Sections[1].ShadowStorageKey())
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("SHIFTQ_DELIVERY_BACKOFF_BASE", "2s")
	t.Setenv("SHIFTQ_BACKEND_TOKEN", "secret")

	cfg, err := Parse([]byte(configTemplate))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Delivery.BackoffBase)
	assert.Equal(t, "secret", cfg.Backend.Token)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad json", `{"sections": [`},
		{"missing endpoint", `{"sections": [{"name": "a"}]}`},
		{"missing name", `{"sections": [{"endpoint": "/x"}]}`},
		{"duplicate", `{"sections": [{"name": "a", "endpoint": "/x"}, {"name": "a", "endpoint": "/y"}]}`},
		{"cap below base", `{"delivery": {"backoff_base": "1m", "backoff_cap": "10s"}}`},
		{"zero max age", `{"delivery": {"max_queue_age": "0s"}}`},
		{"negative max age", `{"delivery": {"max_queue_age": "-1h"}}`},
		{"negative drain delay", `{"delivery": {"drain_delay": "-1s"}}`},
		{"negative enqueue delay", `{"delivery": {"enqueue_delay": "-1s"}}`},
		{"negative settle delay", `{"reconcile": {"settle_delay": "-1ms"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestStripLineComments(t *testing.T) {
	in := []byte("// header\n{\n  // inner\n  \"a\": 1\n}")
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(stripLineComments(in)))
}

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.Storage.Dir)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configTemplate, string(written))
}

func TestSectionLookup(t *testing.T) {
	cfg := Default()
	_, err := cfg.Section("")
	assert.ErrorIs(t, err, ErrNoSections)

	cfg.Sections = []Section{{Name: "assembly", Endpoint: "/a"}}
	s, err := cfg.Section("")
	require.NoError(t, err)
	assert.Equal(t, "assembly", s.Name)

	cfg.Sections = append(cfg.Sections, Section{Name: "paint", Endpoint: "/p"})
	_, err = cfg.Section("")
	assert.Error(t, err)

	s, err = cfg.Section("paint")
	require.NoError(t, err)
	assert.Equal(t, "/p", s.Endpoint)

	_, err = cfg.Section("welding")
	assert.Error(t, err)
}
