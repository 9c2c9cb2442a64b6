// Package config resolves toolversions settings from defaults, an optional
// YAML file, a .env file, the process environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/toolversions/index"
)

const (
	// ProjectConfigName is the config file looked up in the working directory.
	ProjectConfigName = "toolversions.yaml"
	// EnvFileName is the dotenv file read from the working directory.
	EnvFileName = ".env"
	// DefaultManifest is the manifest path used when nothing else is set.
	DefaultManifest = "tools.json"
)

// Environment variables consulted by Load.
const (
	EnvManifest     = "TOOLVERSIONS_MANIFEST"
	EnvMode         = "TOOLVERSIONS_MODE"
	EnvIndexURL     = "TOOLVERSIONS_INDEX_URL"
	EnvTimeout      = "TOOLVERSIONS_TIMEOUT"
	EnvUserAgent    = "TOOLVERSIONS_USER_AGENT"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved runtime configuration.
type Config struct {
	Manifest     string
	Mode         index.Mode
	IndexURL     string
	Timeout      time.Duration
	UserAgent    string
	OTLPEndpoint string
}

// File is the on-disk shape of toolversions.yaml. Values may reference
// environment variables as $NAME or ${NAME}.
type File struct {
	Manifest  string `yaml:"manifest,omitempty"`
	Mode      string `yaml:"mode,omitempty"`
	IndexURL  string `yaml:"index_url,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
	UserAgent string `yaml:"user_agent,omitempty"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	} `yaml:"telemetry,omitempty"`
}

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadOptions controls Load. Zero values fall back to the process state.
type LoadOptions struct {
	// ConfigPath is an explicit config file; it must exist when set.
	ConfigPath string
	// Dir is where toolversions.yaml and .env are looked up.
	Dir string
	// Version is embedded in the default user agent.
	Version string
	Lookup  LookupFunc
}

// Defaults returns the built-in configuration.
func Defaults(version string) Config {
	ua := index.DefaultUserAgent
	if v := strings.TrimSpace(version); v != "" {
		ua += "/" + v
	}
	return Config{
		Manifest:  DefaultManifest,
		Mode:      index.ModeJSON,
		IndexURL:  index.DefaultBaseURL,
		Timeout:   index.DefaultTimeout,
		UserAgent: ua,
	}
}

// Load resolves defaults, the config file, .env and the environment, in that
// order of increasing precedence. It returns the config file used, if any.
// Flags are applied by the caller on top of the result.
func Load(opts LoadOptions) (Config, string, error) {
	dir := opts.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenv, err := ReadEnvFile(filepath.Join(dir, EnvFileName))
	if err != nil {
		return Config{}, "", err
	}
	lookup = withFallback(lookup, dotenv)

	cfg := Defaults(opts.Version)

	path, found, err := DiscoverPathFrom(opts.ConfigPath, dir)
	if err != nil {
		return Config{}, "", err
	}
	if found {
		file, err := ReadFile(path)
		if err != nil {
			return Config{}, "", err
		}
		if err := file.apply(&cfg, lookup); err != nil {
			return Config{}, "", fmt.Errorf("config file %q: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// DiscoverPathFrom resolves the config file with first-match semantics: the
// explicit path if given, else toolversions.yaml in dir. A missing explicit
// path is an error wrapping fs.ErrNotExist.
func DiscoverPathFrom(explicitPath, dir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidate := filepath.Join(dir, ProjectConfigName)
	if explicit != "" {
		candidate = filepath.Clean(explicit)
	}

	info, err := os.Stat(candidate)
	switch {
	case err == nil && info.IsDir():
		return "", false, fmt.Errorf("config path %q is a directory", candidate)
	case err == nil:
		return candidate, true, nil
	case errors.Is(err, fs.ErrNotExist):
		if explicit != "" {
			return "", false, fmt.Errorf("config file %q not found: %w", candidate, fs.ErrNotExist)
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
	}
}

// ReadFile parses a YAML config file.
func ReadFile(path string) (File, error) {
	// #nosec G304 -- path comes from explicit flag or working-directory discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return file, nil
}

// ReadEnvFile reads a dotenv file without touching the process environment.
// A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return values, nil
}

func (f File) apply(cfg *Config, lookup LookupFunc) error {
	expand := func(value string) string {
		return strings.TrimSpace(os.Expand(value, func(key string) string {
			v, _ := lookup(key)
			return v
		}))
	}

	if v := expand(f.Manifest); v != "" {
		cfg.Manifest = v
	}
	if v := expand(f.Mode); v != "" {
		cfg.Mode = index.Mode(strings.ToLower(v))
	}
	if v := expand(f.IndexURL); v != "" {
		cfg.IndexURL = v
	}
	if v := expand(f.Timeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: timeout %q: %v", ErrInvalid, v, err)
		}
		cfg.Timeout = d
	}
	if v := expand(f.UserAgent); v != "" {
		cfg.UserAgent = v
	}
	if v := expand(f.Telemetry.OTLPEndpoint); v != "" {
		cfg.OTLPEndpoint = v
	}
	return nil
}

// ApplyEnv overlays TOOLVERSIONS_* and OTEL_EXPORTER_OTLP_ENDPOINT onto cfg.
// Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if v := get(EnvManifest); v != "" {
		cfg.Manifest = v
	}
	if v := get(EnvMode); v != "" {
		cfg.Mode = index.Mode(strings.ToLower(v))
	}
	if v := get(EnvIndexURL); v != "" {
		cfg.IndexURL = v
	}
	if v := get(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvTimeout, v, err)
		}
		cfg.Timeout = d
	}
	if v := get(EnvUserAgent); v != "" {
		cfg.UserAgent = v
	}
	if v := get(EnvOTLPEndpoint); v != "" {
		cfg.OTLPEndpoint = v
	}
	return nil
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Manifest) == "" {
		return fmt.Errorf("%w: manifest path is empty", ErrInvalid)
	}
	if _, err := index.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	u, err := url.Parse(c.IndexURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: index url %q must be an absolute http(s) URL", ErrInvalid, c.IndexURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalid, c.Timeout)
	}
	if c.OTLPEndpoint != "" {
		u, err := url.Parse(c.OTLPEndpoint)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("%w: otlp endpoint %q must be an absolute URL", ErrInvalid, c.OTLPEndpoint)
		}
	}
	return nil
}

func withFallback(primary LookupFunc, fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}
