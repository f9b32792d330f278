package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/simengine"
	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/wearable"
)

const (
	EnvDeviceID    = "STRIDELINK_DEVICE_ID"
	EnvAdminAddr   = "STRIDELINK_ADMIN_ADDR"
	EnvAdminToken  = "STRIDELINK_ADMIN_TOKEN"
	EnvPeerAddr    = "STRIDELINK_PEER_ADDR"
	EnvRedisAddr   = "STRIDELINK_REDIS_ADDR"
	EnvHistoryPath = "STRIDELINK_HISTORY_PATH"
)

// Snapshot store backends.
const (
	StoreRedis = "redis"
	StoreFile  = "file"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Wearable is the resolved wearablectl configuration.
type Wearable struct {
	DeviceID    string
	ListenAddr  string
	AdminAddr   string
	AdminToken  string
	CorsOrigins []string
	HistoryPath string
	Controller  wearable.Config
	Engine      simengine.Config
	Transport   transport.Config
}

// Companion is the resolved companionctl configuration.
type Companion struct {
	DeviceID      string
	PeerAddr      string
	AdminAddr     string
	AdminToken    string
	CorsOrigins   []string
	HistoryPath   string
	SnapshotStore string
	RedisAddr     string
	RedisKey      string
	RedisChannel  string
	SnapshotPath  string
	Mirror        companion.Config
	Snapshot      snapshot.Config
	Transport     transport.Config
}

func DefaultWearable() Wearable {
	tc := transport.DefaultConfig()
	tc.DeviceID = "watch"
	return Wearable{
		DeviceID:    "watch",
		ListenAddr:  "127.0.0.1:7400",
		AdminAddr:   "127.0.0.1:7401",
		CorsOrigins: []string{"http://localhost:3000"},
		HistoryPath: "local/wearable/history.db",
		Controller:  wearable.DefaultConfig(),
		Engine:      simengine.DefaultConfig(),
		Transport:   tc,
	}
}

func DefaultCompanion() Companion {
	tc := transport.DefaultConfig()
	tc.DeviceID = "phone"
	return Companion{
		DeviceID:      "phone",
		PeerAddr:      "127.0.0.1:7400",
		AdminAddr:     "127.0.0.1:7402",
		CorsOrigins:   []string{"http://localhost:3000"},
		HistoryPath:   "local/companion/history.db",
		SnapshotStore: StoreFile,
		RedisAddr:     "127.0.0.1:6379",
		RedisKey:      snapshot.DefaultRedisKey,
		RedisChannel:  snapshot.DefaultRedisChannel,
		SnapshotPath:  "local/companion/widget.json",
		Mirror:        companion.DefaultConfig(),
		Snapshot:      snapshot.DefaultConfig(),
		Transport:     tc,
	}
}

// wearablectl config.toml keys.
type wearableFile struct {
	DeviceID       string        `toml:"device_id"`
	ListenAddr     string        `toml:"listen_addr"`
	AdminAddr      string        `toml:"admin_addr"`
	AdminToken     string        `toml:"admin_token"`
	CorsOrigins    []string      `toml:"cors_origins"`
	HistoryPath    string        `toml:"history_path"`
	PushInterval   string        `toml:"push_interval"`
	PushIntervalMS int64         `toml:"push_interval_ms"`
	EngineTimeout  string        `toml:"engine_timeout"`
	SimInterval    string        `toml:"sim_interval"`
	SimTimeScale   float64       `toml:"sim_time_scale"`
	SimSeed        int64         `toml:"sim_seed"`
	Transport      transportFile `toml:"transport"`
}

// companionctl config.toml keys.
type companionFile struct {
	DeviceID       string        `toml:"device_id"`
	PeerAddr       string        `toml:"peer_addr"`
	AdminAddr      string        `toml:"admin_addr"`
	AdminToken     string        `toml:"admin_token"`
	CorsOrigins    []string      `toml:"cors_origins"`
	HistoryPath    string        `toml:"history_path"`
	Tick           string        `toml:"tick"`
	TickMS         int64         `toml:"tick_ms"`
	Staleness      string        `toml:"staleness"`
	StalenessMS    int64         `toml:"staleness_ms"`
	CommandTimeout string        `toml:"command_timeout"`
	Snapshot       snapshotFile  `toml:"snapshot"`
	Transport      transportFile `toml:"transport"`
}

type snapshotFile struct {
	Store        string `toml:"store"`
	Cooldown     string `toml:"cooldown"`
	Path         string `toml:"path"`
	RedisAddr    string `toml:"redis_addr"`
	RedisKey     string `toml:"redis_key"`
	RedisChannel string `toml:"redis_channel"`
}

type transportFile struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	WriteTimeout      string  `toml:"write_timeout"`
	QueueLimit        int     `toml:"queue_limit"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
	BackoffResetAfter string  `toml:"backoff_reset_after"`
}

// LoadWearable overlays path onto DefaultWearable, then applies env
// overrides. An empty path skips the file.
func LoadWearable(path string) (Wearable, error) {
	cfg := DefaultWearable()
	if path != "" {
		var raw wearableFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Wearable{}, fmt.Errorf("load wearable config (%s): %w", path, err)
		}
		if err := cfg.overlay(meta, raw); err != nil {
			return Wearable{}, fmt.Errorf("load wearable config (%s): %w", path, err)
		}
	}
	overrideString(&cfg.DeviceID, EnvDeviceID)
	overrideString(&cfg.AdminAddr, EnvAdminAddr)
	overrideString(&cfg.AdminToken, EnvAdminToken)
	overrideString(&cfg.HistoryPath, EnvHistoryPath)
	cfg.Transport.DeviceID = cfg.DeviceID
	if err := ValidateWearable(cfg); err != nil {
		return Wearable{}, err
	}
	return cfg, nil
}

func (cfg *Wearable) overlay(meta toml.MetaData, raw wearableFile) error {
	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("history_path") {
		cfg.HistoryPath = strings.TrimSpace(raw.HistoryPath)
	}
	if err := overlayDuration(meta, &cfg.Controller.PushInterval, raw.PushInterval, "push_interval"); err != nil {
		return err
	}
	if meta.IsDefined("push_interval_ms") {
		cfg.Controller.PushInterval = time.Duration(raw.PushIntervalMS) * time.Millisecond
	}
	if err := overlayDuration(meta, &cfg.Controller.EngineTimeout, raw.EngineTimeout, "engine_timeout"); err != nil {
		return err
	}
	if err := overlayDuration(meta, &cfg.Engine.Interval, raw.SimInterval, "sim_interval"); err != nil {
		return err
	}
	if meta.IsDefined("sim_time_scale") {
		cfg.Engine.TimeScale = raw.SimTimeScale
	}
	if meta.IsDefined("sim_seed") {
		cfg.Engine.Seed = raw.SimSeed
	}
	return overlayTransport(meta, &cfg.Transport, raw.Transport)
}

// LoadCompanion overlays path onto DefaultCompanion, then applies env
// overrides. An empty path skips the file.
func LoadCompanion(path string) (Companion, error) {
	cfg := DefaultCompanion()
	if path != "" {
		var raw companionFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Companion{}, fmt.Errorf("load companion config (%s): %w", path, err)
		}
		if err := cfg.overlay(meta, raw); err != nil {
			return Companion{}, fmt.Errorf("load companion config (%s): %w", path, err)
		}
	}
	overrideString(&cfg.DeviceID, EnvDeviceID)
	overrideString(&cfg.AdminAddr, EnvAdminAddr)
	overrideString(&cfg.AdminToken, EnvAdminToken)
	overrideString(&cfg.PeerAddr, EnvPeerAddr)
	overrideString(&cfg.HistoryPath, EnvHistoryPath)
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.RedisAddr = v
		cfg.SnapshotStore = StoreRedis
	}
	cfg.Transport.DeviceID = cfg.DeviceID
	if err := ValidateCompanion(cfg); err != nil {
		return Companion{}, err
	}
	return cfg, nil
}

func (cfg *Companion) overlay(meta toml.MetaData, raw companionFile) error {
	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if meta.IsDefined("peer_addr") {
		cfg.PeerAddr = strings.TrimSpace(raw.PeerAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("history_path") {
		cfg.HistoryPath = strings.TrimSpace(raw.HistoryPath)
	}
	if err := overlayDuration(meta, &cfg.Mirror.Tick, raw.Tick, "tick"); err != nil {
		return err
	}
	if meta.IsDefined("tick_ms") {
		cfg.Mirror.Tick = time.Duration(raw.TickMS) * time.Millisecond
	}
	if err := overlayDuration(meta, &cfg.Mirror.Staleness, raw.Staleness, "staleness"); err != nil {
		return err
	}
	if meta.IsDefined("staleness_ms") {
		cfg.Mirror.Staleness = time.Duration(raw.StalenessMS) * time.Millisecond
	}
	if err := overlayDuration(meta, &cfg.Mirror.CommandTimeout, raw.CommandTimeout, "command_timeout"); err != nil {
		return err
	}

	if meta.IsDefined("snapshot", "store") {
		cfg.SnapshotStore = strings.ToLower(strings.TrimSpace(raw.Snapshot.Store))
	}
	if err := overlayDuration(meta, &cfg.Snapshot.Cooldown, raw.Snapshot.Cooldown, "snapshot", "cooldown"); err != nil {
		return err
	}
	if meta.IsDefined("snapshot", "path") {
		cfg.SnapshotPath = strings.TrimSpace(raw.Snapshot.Path)
	}
	if meta.IsDefined("snapshot", "redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.Snapshot.RedisAddr)
	}
	if meta.IsDefined("snapshot", "redis_key") {
		cfg.RedisKey = strings.TrimSpace(raw.Snapshot.RedisKey)
	}
	if meta.IsDefined("snapshot", "redis_channel") {
		cfg.RedisChannel = strings.TrimSpace(raw.Snapshot.RedisChannel)
	}
	return overlayTransport(meta, &cfg.Transport, raw.Transport)
}

func overlayTransport(meta toml.MetaData, cfg *transport.Config, raw transportFile) error {
	if err := overlayDuration(meta, &cfg.ConnectTimeout, raw.ConnectTimeout, "transport", "connect_timeout"); err != nil {
		return err
	}
	if err := overlayDuration(meta, &cfg.WriteTimeout, raw.WriteTimeout, "transport", "write_timeout"); err != nil {
		return err
	}
	if meta.IsDefined("transport", "queue_limit") {
		cfg.QueueLimit = raw.QueueLimit
	}
	if err := overlayDuration(meta, &cfg.Backoff.InitialDelay, raw.BackoffInitial, "transport", "backoff_initial"); err != nil {
		return err
	}
	if err := overlayDuration(meta, &cfg.Backoff.MaxDelay, raw.BackoffMax, "transport", "backoff_max"); err != nil {
		return err
	}
	if meta.IsDefined("transport", "backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("transport", "backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}
	if err := overlayDuration(meta, &cfg.Backoff.ResetAfter, raw.BackoffResetAfter, "transport", "backoff_reset_after"); err != nil {
		return err
	}
	return nil
}

func ValidateWearable(cfg Wearable) error {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return fmt.Errorf("%w: wearable config missing device_id", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: wearable config missing listen_addr", ErrInvalidConfig)
	}
	if cfg.Controller.PushInterval <= 0 {
		return fmt.Errorf("%w: push_interval must be positive", ErrInvalidConfig)
	}
	return validateTransport(cfg.Transport)
}

func ValidateCompanion(cfg Companion) error {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return fmt.Errorf("%w: companion config missing device_id", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.PeerAddr) == "" {
		return fmt.Errorf("%w: companion config missing peer_addr", ErrInvalidConfig)
	}
	if cfg.Mirror.Tick <= 0 || cfg.Mirror.Staleness <= 0 {
		return fmt.Errorf("%w: tick and staleness must be positive", ErrInvalidConfig)
	}
	if cfg.Mirror.CommandTimeout < 0 {
		return fmt.Errorf("%w: command_timeout must not be negative", ErrInvalidConfig)
	}
	switch cfg.SnapshotStore {
	case StoreRedis:
		if cfg.RedisAddr == "" || cfg.RedisKey == "" {
			return fmt.Errorf("%w: redis snapshot store needs redis_addr and redis_key", ErrInvalidConfig)
		}
	case StoreFile:
		if cfg.SnapshotPath == "" {
			return fmt.Errorf("%w: file snapshot store needs a path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown snapshot store %q", ErrInvalidConfig, cfg.SnapshotStore)
	}
	return validateTransport(cfg.Transport)
}

func validateTransport(cfg transport.Config) error {
	if cfg.QueueLimit <= 0 {
		return fmt.Errorf("%w: transport queue_limit must be positive", ErrInvalidConfig)
	}
	if cfg.Backoff.MaxDelay > 0 && cfg.Backoff.MaxDelay < cfg.Backoff.InitialDelay {
		return fmt.Errorf("%w: transport backoff_max below backoff_initial", ErrInvalidConfig)
	}
	return nil
}

func overlayDuration(meta toml.MetaData, dst *time.Duration, raw string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}

func overrideString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
