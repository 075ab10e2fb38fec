// Package config holds the worker's startup configuration.
//
// Values are layered: defaults, then an optional TOML file, then PIPEWORKER_*
// environment variables, then command-line flags (applied by the binary).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"pipeworker/codec"
	"pipeworker/protocol"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PIPEWORKER_"

type Config struct {
	Framing         string        `toml:"framing"`
	Input           string        `toml:"input"`
	Codec           string        `toml:"codec"`
	MaxMessageBytes int           `toml:"max_message_bytes"`
	LogLevel        string        `toml:"log_level"`
	LogFormat       string        `toml:"log_format"`
	RateLimit       float64       `toml:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `toml:"rate_burst"`
	CallTimeout     time.Duration `toml:"call_timeout"` // 0 disables
	SearchPath      []string      `toml:"search_path"`
	EtcdEndpoints   []string      `toml:"etcd_endpoints"` // empty disables announcement
	EtcdTTL         int64         `toml:"etcd_ttl"`       // lease seconds
	ServiceName     string        `toml:"service_name"`
}

func Default() *Config {
	return &Config{
		Framing:         string(protocol.Unframed),
		Input:           string(protocol.Chunk),
		Codec:           codec.CodecTypeJSON.String(),
		MaxMessageBytes: protocol.DefaultMaxMessageBytes,
		LogLevel:        "info",
		LogFormat:       "console",
		RateBurst:       1,
		EtcdTTL:         10,
		ServiceName:     "pipeworker",
	}
}

// Load reads the TOML file at path over the defaults. Unknown keys are an
// error so that typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
	}

	str("FRAMING", &c.Framing)
	str("INPUT", &c.Input)
	str("CODEC", &c.Codec)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("SERVICE_NAME", &c.ServiceName)
	list("SEARCH_PATH", &c.SearchPath)
	list("ETCD_ENDPOINTS", &c.EtcdEndpoints)

	if v, ok := lookup(EnvPrefix + "MAX_MESSAGE_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"MAX_MESSAGE_BYTES")
		}
		c.MaxMessageBytes = n
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"RATE_LIMIT")
		}
		c.RateLimit = f
	}
	if v, ok := lookup(EnvPrefix + "RATE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"RATE_BURST")
		}
		c.RateBurst = n
	}
	if v, ok := lookup(EnvPrefix + "CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"CALL_TIMEOUT")
		}
		c.CallTimeout = d
	}
	if v, ok := lookup(EnvPrefix + "ETCD_TTL"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"ETCD_TTL")
		}
		c.EtcdTTL = n
	}
	return nil
}

// splitList splits a comma or path-list separated value, dropping empties.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == os.PathListSeparator
	}) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects unknown enum values and combinations the framer cannot
// carry.
func (c *Config) Validate() error {
	framing, err := protocol.ParseFraming(c.Framing)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	if _, err := protocol.ParseInputMode(c.Input); err != nil {
		return errors.Wrap(err, "config")
	}
	ct, err := codec.ParseCodecType(c.Codec)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	// chunk and line input split on newlines and pipe buffers, which would
	// cut binary bodies
	if ct != codec.CodecTypeJSON && framing != protocol.Length {
		return errors.Errorf("config: codec %s requires length framing", ct)
	}
	if c.MaxMessageBytes < 0 {
		return errors.Errorf("config: negative max_message_bytes %d", c.MaxMessageBytes)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return errors.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.RateLimit < 0 {
		return errors.Errorf("config: negative rate_limit %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.Errorf("config: rate_burst must be at least 1, got %d", c.RateBurst)
	}
	if c.CallTimeout < 0 {
		return errors.Errorf("config: negative call_timeout %s", c.CallTimeout)
	}
	if len(c.EtcdEndpoints) > 0 {
		if c.EtcdTTL <= 0 {
			return errors.Errorf("config: etcd_ttl must be positive, got %d", c.EtcdTTL)
		}
		if c.ServiceName == "" {
			return errors.New("config: service_name is required with etcd_endpoints")
		}
	}
	return nil
}

// Reader returns the framer settings. c must have passed Validate.
func (c *Config) Reader() protocol.ReaderConfig {
	framing, _ := protocol.ParseFraming(c.Framing)
	input, _ := protocol.ParseInputMode(c.Input)
	ct, _ := codec.ParseCodecType(c.Codec)
	return protocol.ReaderConfig{
		Framing:  framing,
		Input:    input,
		Codec:    ct,
		MaxBytes: c.MaxMessageBytes,
	}
}
