// Package config loads and validates the archival engine's configuration:
//  1. reads environment variables from .env (via godotenv),
//  2. loads the watch-target dialog list from a small JSON asset,
//  3. normalizes and validates every option,
//  4. caches the result behind a package-level singleton with a
//     thread-safe read API.
//
// Business context: the engine needs MTProto credentials, filesystem
// layout knobs, sync/media pacing knobs, and the watcher's keyword/target
// list. Everything that can sensibly default degrades to a documented
// default and records a warning instead of failing startup; only the
// credentials required to open the gateway are fatal.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig holds every option recognized by the engine (spec.md §6's
// table plus the ambient credentials/operational knobs the gateway,
// logger and rate limiter always need).
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string

	DataDir     string
	SessionPath string

	SyncDelayMS      int
	ExportDelayMS    int
	MediaQueueSize   int
	MediaParallelism int

	WatcherCycleSecs     int
	WatcherKeywords      []string
	WatcherTargetDialogs []int64

	LogLevel    string
	LogFile     string
	ThrottleRPS int
	AppTimezone string
}

// Config is the loaded, validated configuration plus the warnings
// accumulated while reading it.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Defaults mirror spec.md §6 exactly, plus the ambient knobs.
const (
	defaultDataDir          = "./data"
	defaultSessionPath      = "./session.db"
	defaultSyncDelayMS      = 500
	defaultMediaQueueSize   = 1000
	defaultMediaParallelism = 3
	defaultWatcherCycleSecs = 600
	defaultLogLevel         = "info"
	defaultThrottleRPS      = 1
	defaultAppTimezone      = "UTC"
	defaultWatchTargetsFile = "assets/watch_targets.json"
)

var defaultWatcherKeywords = []string{"urgent", "bug", "error", "production"}

// AppLocation is the resolved *time.Location for APP_TIMEZONE, set by
// Load. internal/infra/clock reads this (the message store stamps
// edit_history through it) instead of re-parsing the timezone.
var AppLocation = time.UTC

var (
	cfgInstance *Config
	cfgDone     bool
	cfgMu       sync.Mutex
)

// Load is the application's configuration entry point. First call reads
// .env and the watch-targets asset, validates, and fixes the singleton.
// A second call returns an error: configuration is meant to be loaded
// exactly once at startup.
func Load(envPath string) error {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	if cfgDone {
		return errors.New("config already loaded")
	}

	cfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = cfg
	cfgDone = true

	if loc, locErr := ParseLocation(cfg.Env.AppTimezone); locErr == nil {
		AppLocation = loc
	}
	return nil
}

// loadConfig performs the actual load/validate without touching global
// state, so tests can build a throwaway Config and inspect it directly.
func loadConfig(envPath string) (*Config, error) {
	// godotenv.Load tolerates a missing file (env vars may already be
	// set by the process environment); only a malformed file errors.
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: load .env: %v", errConfigSentinel, err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfigSentinel, err)
	}
	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, fmt.Errorf("%w: env API_HASH must be set", errConfigSentinel)
	}
	phone := strings.TrimSpace(os.Getenv("PHONE_NUMBER"))
	if phone == "" {
		return nil, fmt.Errorf("%w: env PHONE_NUMBER must be set", errConfigSentinel)
	}

	var warnings []string

	dataDir := sanitizeFile("DATA_DIR", os.Getenv("DATA_DIR"), defaultDataDir, &warnings)
	sessionPath := sanitizeFile("SESSION_PATH", os.Getenv("SESSION_PATH"), defaultSessionPath, &warnings)
	syncDelayMS := parseIntDefault("SYNC_DELAY_MS", defaultSyncDelayMS, nonNegative, &warnings)
	// export_delay_ms defaults to unset (0 = no extra sleep); do not warn when absent.
	exportDelayMS := parseIntDefault("EXPORT_DELAY_MS", 0, nonNegative, nil)
	mediaQueueSize := parseIntDefault("MEDIA_QUEUE_SIZE", defaultMediaQueueSize, greaterThanZero, &warnings)
	mediaParallelism := parseIntDefault("MEDIA_PARALLELISM", defaultMediaParallelism, greaterThanZero, &warnings)
	watcherCycleSecs := parseIntDefault("WATCHER_CYCLE_SECS", defaultWatcherCycleSecs, greaterThanZero, &warnings)
	watcherKeywords := sanitizeKeywords(os.Getenv("WATCHER_KEYWORDS"), defaultWatcherKeywords, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	appTimezone := sanitizeTimezone(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	watchTargetsFile := sanitizeFile("WATCH_TARGETS_FILE", os.Getenv("WATCH_TARGETS_FILE"),
		defaultWatchTargetsFile, &warnings)
	watcherTargets, err := loadWatchTargets(watchTargetsFile)
	if err != nil {
		appendWarningf(&warnings, "failed to load watch targets from %s: %v; starting with an empty target list",
			watchTargetsFile, err)
		watcherTargets = nil
	}

	env := EnvConfig{
		APIID:                apiID,
		APIHash:              apiHash,
		PhoneNumber:          phone,
		DataDir:              dataDir,
		SessionPath:          sessionPath,
		SyncDelayMS:          syncDelayMS,
		ExportDelayMS:        exportDelayMS,
		MediaQueueSize:       mediaQueueSize,
		MediaParallelism:     mediaParallelism,
		WatcherCycleSecs:     watcherCycleSecs,
		WatcherKeywords:      watcherKeywords,
		WatcherTargetDialogs: watcherTargets,
		LogLevel:             logLevel,
		LogFile:              logFile,
		ThrottleRPS:          throttleRPS,
		AppTimezone:          appTimezone,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// errConfigSentinel marks config-load failures for errors.Is(err, ...)
// without importing internal/errs here (config is a leaf package with no
// internal dependencies, by design, so it cannot depend on internal/errs
// without risking a cycle if errs ever wants configurable behavior).
var errConfigSentinel = errors.New("config")

// watchTargetsFile is the JSON shape of the watch-targets asset: a flat
// list of dialog IDs, mirroring the teacher's filters.json load pattern.
type watchTargetsFile struct {
	DialogIDs []int64 `json:"dialog_ids"`
}

func loadWatchTargets(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var parsed watchTargetsFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return parsed.DialogIDs, nil
}

// Warnings returns the warnings accumulated while loading configuration
// (e.g. a default substituted for a missing/invalid env var).
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	out := make([]string, len(cfgInstance.warnings))
	copy(out, cfgInstance.warnings)
	return out
}

// Env returns the loaded EnvConfig. It is an immutable snapshot from the
// last Load call.
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// ParseLocation parses either an IANA timezone name ("Europe/Moscow") or a
// UTC offset ("+03:00", "-0700", "UTC+3").
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	if loc, ok := parseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

func sanitizeTimezone(value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := ParseLocation(v); err != nil {
		appendWarningf(warnings, "env APP_TIMEZONE value %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}

func parseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)
	re := regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)
	m := re.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	mins := 0
	if m[3] != "" {
		mins, err = strconv.Atoi(m[3])
		if err != nil {
			return nil, false
		}
	}
	if hours < 0 || hours > 14 || mins < 0 || mins > 59 {
		return nil, false
	}
	const (
		secInHour = 3600
		secInMin  = 60
	)
	offset := sign * (hours*secInHour + mins*secInMin)
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}

// sanitizeKeywords parses a comma-separated keyword list, lowercasing and
// deduplicating entries. An empty result falls back to the built-in set.
func sanitizeKeywords(value string, fallback []string, warnings *[]string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		appendWarningf(warnings, "env WATCHER_KEYWORDS is not set; using built-in default %v", fallback)
		return cloneStrings(fallback)
	}

	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	if len(result) == 0 {
		appendWarningf(warnings, "env WATCHER_KEYWORDS produced an empty list; using built-in default %v", fallback)
		return cloneStrings(fallback)
	}
	return result
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
