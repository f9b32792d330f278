package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	wpath := filepath.Join(dir, "wearable", "config.toml")
	if err := WriteTemplate(wpath, "wearable", false); err != nil {
		t.Fatalf("write wearable template: %v", err)
	}
	w, err := LoadWearable(wpath)
	if err != nil {
		t.Fatalf("load wearable: %v", err)
	}
	if w.DeviceID != "watch" || w.Transport.DeviceID != "watch" {
		t.Fatalf("unexpected device id: %q / %q", w.DeviceID, w.Transport.DeviceID)
	}
	if w.Controller.PushInterval != 750*time.Millisecond {
		t.Fatalf("unexpected push interval: %v", w.Controller.PushInterval)
	}

	cpath := filepath.Join(dir, "companion.toml")
	if err := WriteTemplate(cpath, "companion", false); err != nil {
		t.Fatalf("write companion template: %v", err)
	}
	c, err := LoadCompanion(cpath)
	if err != nil {
		t.Fatalf("load companion: %v", err)
	}
	if c.Mirror.Staleness != 5*time.Second || c.Mirror.Tick != time.Second || c.Mirror.CommandTimeout != 0 {
		t.Fatalf("unexpected mirror config: %+v", c.Mirror)
	}
	if c.Snapshot.Cooldown != 120*time.Second || c.SnapshotStore != StoreFile {
		t.Fatalf("unexpected snapshot config: store=%q cooldown=%v", c.SnapshotStore, c.Snapshot.Cooldown)
	}

	if err := WriteTemplate(cpath, "companion", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadCompanionOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `
staleness_ms = 2500

[snapshot]
store = "redis"
redis_addr = "10.0.0.5:6379"

[transport]
queue_limit = 4
backoff_jitter = false
`)
	cfg, err := LoadCompanion(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultCompanion()
	if cfg.Mirror.Staleness != 2500*time.Millisecond {
		t.Fatalf("unexpected staleness: %v", cfg.Mirror.Staleness)
	}
	if cfg.Mirror.Tick != def.Mirror.Tick || cfg.PeerAddr != def.PeerAddr {
		t.Fatalf("undefined keys changed: %+v", cfg)
	}
	if cfg.SnapshotStore != StoreRedis || cfg.RedisAddr != "10.0.0.5:6379" || cfg.RedisKey != def.RedisKey {
		t.Fatalf("unexpected redis config: %+v", cfg)
	}
	if cfg.Transport.QueueLimit != 4 || cfg.Transport.Backoff.Jitter {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Transport.Backoff.InitialDelay != def.Transport.Backoff.InitialDelay {
		t.Fatalf("backoff initial changed: %v", cfg.Transport.Backoff.InitialDelay)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	testlog.Start(t)

	t.Setenv(EnvPeerAddr, "192.168.1.20:7400")
	t.Setenv(EnvRedisAddr, "cache:6379")
	t.Setenv(EnvHistoryPath, "/var/lib/stridelink/history.db")
	t.Setenv(EnvDeviceID, "phone-2")

	cfg, err := LoadCompanion("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PeerAddr != "192.168.1.20:7400" || cfg.HistoryPath != "/var/lib/stridelink/history.db" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.SnapshotStore != StoreRedis || cfg.RedisAddr != "cache:6379" {
		t.Fatalf("redis env should select the redis store: %+v", cfg)
	}
	if cfg.Transport.DeviceID != "phone-2" {
		t.Fatalf("transport device id = %q", cfg.Transport.DeviceID)
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := EnvPeerAddr + "=from-file:1\n" + EnvHistoryPath + "=from-file.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv(EnvPeerAddr, "from-env:2")
	t.Setenv(EnvHistoryPath, "")
	os.Unsetenv(EnvHistoryPath)

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv(EnvPeerAddr); got != "from-env:2" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv(EnvHistoryPath); got != "from-file.db" {
		t.Fatalf("file variable not loaded: %q", got)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)

	cases := map[string]string{
		"bad duration":  `push_interval = "soon"`,
		"zero push":     `push_interval_ms = 0`,
		"empty listen":  `listen_addr = ""`,
		"backoff order": "[transport]\nbackoff_initial = \"10s\"\nbackoff_max = \"1s\"",
	}
	for name, content := range cases {
		if _, err := LoadWearable(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	_, err := LoadCompanion(writeConfig(t, "[snapshot]\nstore = \"s3\""))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
