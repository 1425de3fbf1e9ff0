// Package config loads the per-event-type dispatch configuration from YAML,
// with environment variable overrides and hot-reload when the file changes
// on disk.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ryanuber/go-glob"
	"github.com/spf13/viper"
)

// DefaultMaxRetryAttempts is applied when an event type's config section
// omits maxRetryAttempts entirely. It must not be applied when the operator
// has explicitly configured 0 — spec.md §8 requires MaxRetryAttempts = 0 to
// mean zero retries, a distinct case from "unset".
const DefaultMaxRetryAttempts = 3

// EventTypeConfig configures one registered event type's queue and worker.
// MaxRetryAttempts is a pointer so that an explicit `maxRetryAttempts: 0` in
// YAML is distinguishable from the field being absent: nil means "apply
// DefaultMaxRetryAttempts", a non-nil *0 means "never retry".
type EventTypeConfig struct {
	TopicID            string `mapstructure:"topicId"`
	MaxRetryAttempts   *int   `mapstructure:"maxRetryAttempts"`
	UseBoundedCapacity bool   `mapstructure:"useBoundedCapacity"`
	BoundedCapacity    int    `mapstructure:"boundedCapacity"`
}

// ResolvedMaxRetryAttempts returns the configured MaxRetryAttempts, or
// DefaultMaxRetryAttempts when the field was left unset in YAML.
func (c EventTypeConfig) ResolvedMaxRetryAttempts() int {
	if c.MaxRetryAttempts == nil {
		return DefaultMaxRetryAttempts
	}
	return *c.MaxRetryAttempts
}

// Config is the root dispatch configuration document.
type Config struct {
	EventTypes               map[string]EventTypeConfig `mapstructure:"eventTypes"`
	EnabledEventTypePatterns []string                   `mapstructure:"enabledEventTypePatterns"`
	Sink                     SinkConfig                 `mapstructure:"sink"`
	DeadLetter               DeadLetterConfig           `mapstructure:"deadLetter"`
}

// SinkConfig configures the SNS endpoint the workers publish to.
type SinkConfig struct {
	Provider string `mapstructure:"provider"` // "aws" or "localstack"
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// DeadLetterConfig configures the Redis-backed dead-letter recorder.
type DeadLetterConfig struct {
	RedisURL   string `mapstructure:"redisUrl"`
	MaxEntries int64  `mapstructure:"maxEntries"`
}

// IsEventTypeEnabled reports whether eventType matches at least one of the
// configured enablement glob patterns. An empty pattern list enables every
// event type — enablement is opt-out, not opt-in, matching spec.md's stance
// that registration is never mandatory gated.
func (c *Config) IsEventTypeEnabled(eventType string) bool {
	if len(c.EnabledEventTypePatterns) == 0 {
		return true
	}
	for _, pattern := range c.EnabledEventTypePatterns {
		if glob.Glob(pattern, eventType) {
			return true
		}
	}
	return false
}

// Loader owns the viper instance backing Config, and notifies subscribers
// with the re-parsed Config when the underlying file changes. It does not
// itself reconfigure anything already built from the earlier Config.
type Loader struct {
	v *viper.Viper

	mu          sync.RWMutex
	current     *Config
	subscribers []func(*Config)
}

// NewLoader reads configPath once and begins watching it for changes.
// Environment variables of the form EVENTGATEWAY_EVENTTYPES_<TYPE>_<FIELD>
// override the corresponding YAML value.
func NewLoader(configPath string) (*Loader, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("EVENTGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", configPath, err)
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.current = cfg

	v.OnConfigChange(func(in fsnotify.Event) {
		l.reload()
	})
	v.WatchConfig()

	return l, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) reload() {
	cfg, err := l.decode()
	if err != nil {
		// Keep serving the last-known-good configuration; a malformed
		// in-flight edit should never crash the process or drop workers.
		return
	}

	l.mu.Lock()
	l.current = cfg
	subs := append([]func(*Config){}, l.subscribers...)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to be called, with the newly decoded Config, every
// time the backing file changes and is successfully re-parsed.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}
