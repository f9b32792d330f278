package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "wearable":
		return wearableTemplate, nil
	case "companion":
		return companionTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const wearableTemplate = `device_id = "watch"
listen_addr = "127.0.0.1:7400"
admin_addr = "127.0.0.1:7401"
# admin_token = "change-me"
cors_origins = ["http://localhost:3000"]
history_path = "local/wearable/history.db"
push_interval = "750ms"
engine_timeout = "10s"
sim_interval = "1s"
sim_time_scale = 1.0

[transport]
connect_timeout = "5s"
write_timeout = "2s"
queue_limit = 16
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true
backoff_reset_after = "10s"
`

const companionTemplate = `device_id = "phone"
peer_addr = "127.0.0.1:7400"
admin_addr = "127.0.0.1:7402"
# admin_token = "change-me"
cors_origins = ["http://localhost:3000"]
history_path = "local/companion/history.db"
tick = "1s"
staleness = "5s"
command_timeout = "0s"

[snapshot]
store = "file"
cooldown = "120s"
path = "local/companion/widget.json"
redis_addr = "127.0.0.1:6379"
redis_key = "stridelink:widget:snapshot"
redis_channel = "stridelink:widget:refresh"

[transport]
connect_timeout = "5s"
write_timeout = "2s"
queue_limit = 16
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true
backoff_reset_after = "10s"
`
