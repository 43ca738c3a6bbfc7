// Package config loads and watches the blastbot configuration file.
//
// Configs are JSON or YAML (picked by file extension). All durations are Go
// duration strings (e.g. "500ms", "10s", "1m"). Unknown keys are rejected so
// typos surface at load time instead of silently defaulting.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
	API      APIConfig      `json:"api"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// SendTimeout bounds each Telegram API call (Go duration string).
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	// Driver: "sqlite" (default) or "memory" (tests / throwaway runs).
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the scheduled dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - max_targets: 10000
//   - max_text_len: 4096
//   - send_delay_base: "1s" (each send sleeps uniform [base, 2*base))
//   - sender_timeout: "15s"
//   - log_batch_size: 50
//   - rate_per_sec: 0 (no process-wide cap; jitter delay is the throttle)
//   - delete_retries: 10, delete_retry_delay: "200ms"
type EngineConfig struct {
	MaxTargets       int    `json:"max_targets,omitempty"`
	MaxTextLen       int    `json:"max_text_len,omitempty"`
	SendDelayBase    string `json:"send_delay_base,omitempty"`
	SenderTimeout    string `json:"sender_timeout,omitempty"`
	LogBatchSize     int    `json:"log_batch_size,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	DeleteRetries    int    `json:"delete_retries,omitempty"`
	DeleteRetryDelay string `json:"delete_retry_delay,omitempty"`
	// Timezone is an IANA TZ name used for cron evaluation, e.g. "Asia/Jakarta".
	Timezone string `json:"timezone,omitempty"`
}

type APIConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

func decodeStrict(data []byte, dst *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ParseDuration parses a duration string field, returning def when the field
// is empty and an error naming the field when it is malformed or negative.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
