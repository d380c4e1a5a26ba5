package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	p := writeConfig(t, `
auth:
  jwt_secret: s3cret
store:
  backend: pebble
  pebble_dir: /tmp/feed
distribution:
  resync_interval: 5s
groups:
  family: [alice, bob]
catalog:
  - id: d1
    name: Mapo Tofu
    price: "30"
`)
	a, err := Load(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, a.Auth.JWTSecret, "s3cret")
	assert.Equal(t, a.Store.Backend, "pebble")
	assert.Equal(t, a.Distribution.ResyncInterval, 5*time.Second)
	assert.Equal(t, a.Distribution.Buffer, 64)
	assert.Equal(t, a.HTTP.Port, 3000)
	assert.Equal(t, a.Groups["family"], []string{"alice", "bob"})
	assert.Equal(t, a.Catalog[0].Name, "Mapo Tofu")
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "auth:\n  jwt_secret: from-file\n")
	t.Setenv("WHAT2EAT_JWT_SECRET", "from-env")
	t.Setenv("WHAT2EAT_HTTP_PORT", "4000")

	a, err := Load(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, a.Auth.JWTSecret, "from-env")
	assert.Equal(t, a.HTTP.Port, 4000)
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	a := Defaults()
	a.Auth.JWTSecret = "x"
	assert.Equal(t, a.Validate(), nil)

	a.Store.Backend = "postgres"
	assert.NotEqual(t, a.Validate(), nil)

	a.Store.Backend = "memory"
	a.Changelog.Sink = "kafka"
	assert.NotEqual(t, a.Validate(), nil)

	a.Changelog.Sink = "none"
	a.Rabbit.Enabled = true
	assert.NotEqual(t, a.Validate(), nil)

	a.Rabbit.Enabled = false
	a.Auth.JWTSecret = ""
	assert.NotEqual(t, a.Validate(), nil)
}
