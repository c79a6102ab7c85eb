package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/joho/godotenv"
	"github.com/stoewer/go-strcase"
	"sigs.k8s.io/yaml"
)

const (
	envPrefix         = "BILLING_HOOKS_"
	defaultConfigPath = "billing-hooks.yaml"
	defaultAddr       = ":8080"
	defaultDriver     = "memory"
	defaultCacheTTL   = 30 * time.Second
	defaultShutdown   = 15 * time.Second
	defaultTolerance  = 5 * time.Minute
	defaultDedupeTTL  = 10 * time.Minute
)

type hostSection struct {
	Addr             string `json:"addr"`
	LogLevel         string `json:"log_level"`
	ShutdownTimeout  string `json:"shutdown_timeout"`
	IngressSecret    string `json:"ingress_secret"`
	IngressTolerance string `json:"ingress_tolerance"`
	IngressDedupeTTL string `json:"ingress_dedupe_ttl"`
	InstanceID       string `json:"instance_id"`
}

type storeSection struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	CacheTTL string `json:"cache_ttl"`
}

type fileConfig struct {
	Host  hostSection  `json:"host"`
	Store storeSection `json:"store"`
}

// hostConfig holds the settings owned by the binary rather than the service.
type hostConfig struct {
	Addr             string
	LogLevel         string
	ShutdownTimeout  time.Duration
	IngressSecret    string
	IngressTolerance time.Duration
	IngressDedupeTTL time.Duration
	InstanceID       string
	StoreDriver      string
	StoreDSN         string
	CacheTTL         time.Duration
}

// loadedConfig is the host configuration plus the raw service settings that
// are handed to the service config provider.
type loadedConfig struct {
	Host    hostConfig
	Service map[string]any
}

// envBindings maps environment variables onto dotted service config keys.
// Kind policies bind as KINDS_<KIND>_<FIELD>, for example
// BILLING_HOOKS_KINDS_OVERDUE_INVOICE_TARGET_URL.
var envBindings = withKindBindings(map[string]string{
	"SERVICE_NAME":            "service_name",
	"TARGET_URL":              "delivery.target_url",
	"SIGNING_SECRET":          "delivery.signing_secret",
	"MAX_ATTEMPTS":            "delivery.max_attempts",
	"BASE_BACKOFF":            "delivery.base_backoff",
	"MAX_BACKOFF":             "delivery.max_backoff",
	"JITTER":                  "delivery.jitter",
	"REQUEST_TIMEOUT":         "delivery.request_timeout",
	"WORKERS":                 "delivery.workers",
	"POLL_INTERVAL":           "delivery.poll_interval",
	"BATCH_SIZE":              "delivery.batch_size",
	"MAX_RESPONSE_BODY_BYTES": "delivery.max_response_body_bytes",
	"USER_AGENT":              "delivery.user_agent",
	"DEDUPE_WINDOW":           "delivery.dedupe_window",
	"BREAKER_FAILURES":        "delivery.breaker_failures",
	"BREAKER_OPEN_TIMEOUT":    "delivery.breaker_open_timeout",
	"ACCOUNT_LOOKUP_TIMEOUT":  "account.lookup_timeout",
	"ACCOUNT_DISABLED":        "account.disabled",
})

var kindPolicyFields = []string{"target_url", "max_attempts", "disabled"}

var (
	durationKeys = map[string]bool{
		"delivery.base_backoff":         true,
		"delivery.max_backoff":          true,
		"delivery.request_timeout":      true,
		"delivery.poll_interval":        true,
		"delivery.dedupe_window":        true,
		"delivery.breaker_open_timeout": true,
		"account.lookup_timeout":        true,
	}
	intKeys = withKindKeys(map[string]bool{
		"delivery.max_attempts":            true,
		"delivery.workers":                 true,
		"delivery.batch_size":              true,
		"delivery.max_response_body_bytes": true,
		"delivery.breaker_failures":        true,
	}, "max_attempts")
	floatKeys = map[string]bool{"delivery.jitter": true}
	boolKeys  = withKindKeys(map[string]bool{"account.disabled": true}, "disabled")
)

func withKindBindings(bindings map[string]string) map[string]string {
	for _, kind := range core.IntentKinds() {
		envKind := strcase.UpperSnakeCase(string(kind))
		for _, field := range kindPolicyFields {
			bindings["KINDS_"+envKind+"_"+strings.ToUpper(field)] = "kinds." + string(kind) + "." + field
		}
	}
	return bindings
}

func withKindKeys(keys map[string]bool, field string) map[string]bool {
	for _, kind := range core.IntentKinds() {
		keys["kinds."+string(kind)+"."+field] = true
	}
	return keys
}

// loadConfig reads .env (when present), then the YAML file named by
// BILLING_HOOKS_CONFIG, then BILLING_HOOKS_* overrides.
func loadConfig(lookup func(string) (string, bool)) (loadedConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return loadedConfig{}, fmt.Errorf("load .env: %w", err)
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path, explicit := lookup(envPrefix + "CONFIG")
	if !explicit {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		data = nil
	default:
		return loadedConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return parseConfig(data, lookup)
}

func parseConfig(data []byte, lookup func(string) (string, bool)) (loadedConfig, error) {
	file := fileConfig{}
	raw := map[string]any{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return loadedConfig{}, fmt.Errorf("parse config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return loadedConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	delete(raw, "host")
	delete(raw, "store")

	for suffix, key := range envBindings {
		if value, ok := lookup(envPrefix + suffix); ok {
			setPath(raw, key, value)
		}
	}
	if err := normalizeValues(raw, ""); err != nil {
		return loadedConfig{}, err
	}

	host := hostConfig{
		Addr:        firstNonEmpty(envValue(lookup, "ADDR"), file.Host.Addr, defaultAddr),
		LogLevel:    firstNonEmpty(envValue(lookup, "LOG_LEVEL"), file.Host.LogLevel, "info"),
		StoreDriver: strings.ToLower(firstNonEmpty(envValue(lookup, "STORE_DRIVER"), file.Store.Driver, defaultDriver)),
		StoreDSN:    firstNonEmpty(envValue(lookup, "STORE_DSN"), file.Store.DSN),

		IngressSecret: firstNonEmpty(envValue(lookup, "INGRESS_SECRET"), file.Host.IngressSecret),
		InstanceID:    firstNonEmpty(envValue(lookup, "INSTANCE_ID"), file.Host.InstanceID),
	}
	var err error
	if host.ShutdownTimeout, err = parseDurationOr(firstNonEmpty(envValue(lookup, "SHUTDOWN_TIMEOUT"), file.Host.ShutdownTimeout), defaultShutdown); err != nil {
		return loadedConfig{}, fmt.Errorf("host.shutdown_timeout: %w", err)
	}
	if host.IngressTolerance, err = parseDurationOr(firstNonEmpty(envValue(lookup, "INGRESS_TOLERANCE"), file.Host.IngressTolerance), defaultTolerance); err != nil {
		return loadedConfig{}, fmt.Errorf("host.ingress_tolerance: %w", err)
	}
	if host.IngressDedupeTTL, err = parseDurationOr(firstNonEmpty(envValue(lookup, "INGRESS_DEDUPE_TTL"), file.Host.IngressDedupeTTL), defaultDedupeTTL); err != nil {
		return loadedConfig{}, fmt.Errorf("host.ingress_dedupe_ttl: %w", err)
	}
	if host.CacheTTL, err = parseDurationOr(firstNonEmpty(envValue(lookup, "CACHE_TTL"), file.Store.CacheTTL), defaultCacheTTL); err != nil {
		return loadedConfig{}, fmt.Errorf("store.cache_ttl: %w", err)
	}
	switch host.StoreDriver {
	case "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql", "pg":
		if host.StoreDSN == "" {
			return loadedConfig{}, fmt.Errorf("store.dsn is required for driver %q", host.StoreDriver)
		}
	default:
		return loadedConfig{}, fmt.Errorf("store.driver %q is not supported", host.StoreDriver)
	}

	return loadedConfig{Host: host, Service: raw}, nil
}

func setPath(raw map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// normalizeValues converts string leaves for typed keys so env values and
// YAML durations decode into the service config.
func normalizeValues(raw map[string]any, prefix string) error {
	for key, value := range raw {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			if err := normalizeValues(nested, path); err != nil {
				return err
			}
			continue
		}
		text, ok := value.(string)
		if !ok {
			if number, isFloat := value.(float64); isFloat && intKeys[path] {
				raw[key] = int64(number)
			}
			continue
		}
		text = strings.TrimSpace(text)
		switch {
		case durationKeys[path]:
			parsed, err := time.ParseDuration(text)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			raw[key] = parsed
		case intKeys[path]:
			parsed, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			raw[key] = parsed
		case floatKeys[path]:
			parsed, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			raw[key] = parsed
		case boolKeys[path]:
			parsed, err := strconv.ParseBool(text)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			raw[key] = parsed
		}
	}
	return nil
}

func envValue(lookup func(string) (string, bool), suffix string) string {
	value, _ := lookup(envPrefix + suffix)
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseDurationOr(value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(value))
}
