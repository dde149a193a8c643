package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is read when CONFIG_FILE is unset and the file exists.
const DefaultConfigFile = "config.toml"

// Load reads configuration from defaults, the TOML file named by CONFIG_FILE
// (or config.toml if present), and environment variables, then validates it.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	file, err := readFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			file = nil
		} else {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	return load(file)
}

// LoadFile is Load with an explicit TOML file path.
func LoadFile(path string) (*Config, error) {
	file, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return load(file)
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func load(file map[string]string) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), "", file); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// readFile parses a TOML file into flat "section.key" -> string pairs so file
// values go through the same conversion as environment values.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	flat := make(map[string]string)
	flatten("", tree, flat)
	return flat, nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// loadStruct recursively populates struct fields. Precedence per field:
// env, envAlt, file, default.
func loadStruct(v reflect.Value, section string, file map[string]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		tomlKey := field.Tag.Get("toml")
		if section != "" && tomlKey != "" {
			tomlKey = section + "." + tomlKey
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, tomlKey, file); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}
		if value == "" && tomlKey != "" {
			value = file[tomlKey]
		}
		if value == "" {
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value, field.Tag.Get("size") == "bytes"); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string, byteSize bool) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		switch {
		case field.Type() == reflect.TypeOf(time.Duration(0)):
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		case byteSize:
			n, err := units.RAMInBytes(value)
			if err != nil {
				return fmt.Errorf("invalid size: %w", err)
			}
			field.SetInt(n)
		default:
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Extraction
	if !strings.HasPrefix(c.Extraction.BaseURL, "http://") && !strings.HasPrefix(c.Extraction.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("BOQ_API_URL (%q) must be an http(s) URL", c.Extraction.BaseURL))
	}
	if c.Extraction.Timeout <= 0 {
		errs = append(errs, "EXTRACT_TIMEOUT must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Extraction.Timeout {
		errs = append(errs, fmt.Sprintf("SERVER_WRITE_TIMEOUT (%s) must be 0 or >= EXTRACT_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Extraction.Timeout))
	}

	// Upload
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("UPLOAD_ALLOWED_EXTENSIONS entry %q must start with a dot", ext))
		}
	}

	// OAuth
	if c.Upload.RequireLogin && c.OAuth.ClientID == "" {
		errs = append(errs, "GOOGLE_CLIENT_ID is required when UPLOAD_REQUIRE_LOGIN is true")
	}

	// Session
	if c.Session.CookieName == "" {
		errs = append(errs, "SESSION_COOKIE_NAME must not be empty")
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, "SESSION_IDLE_TIMEOUT must be non-negative")
	}
	if c.Session.IdleTimeout > 0 && c.Session.SweepInterval <= 0 {
		errs = append(errs, "SESSION_SWEEP_INTERVAL must be positive when SESSION_IDLE_TIMEOUT is set")
	}
	if c.Session.MaxWorkspaces < 0 {
		errs = append(errs, "SESSION_MAX_WORKSPACES must be non-negative")
	}
	if c.Session.MaxRetainedBytes < 0 {
		errs = append(errs, "SESSION_MAX_RETAINED must be non-negative")
	}
	if c.Session.MaxRetainedBytes > 0 && c.Session.MaxRetainedBytes < c.Upload.MaxFileSize {
		errs = append(errs, "SESSION_MAX_RETAINED must be 0 or >= UPLOAD_MAX_FILE_SIZE")
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The OAuth client secret is masked.
func (c *Config) String() string {
	secret := ""
	if c.OAuth.ClientSecret != "" {
		secret = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Extraction: {BaseURL: %q, Timeout: %s}, ", c.Extraction.BaseURL, c.Extraction.Timeout)
	fmt.Fprintf(&b, "Upload: {MaxFileSize: %s, MaxConcurrent: %d, RequireLogin: %v}, ",
		units.BytesSize(float64(c.Upload.MaxFileSize)), c.Upload.MaxConcurrent, c.Upload.RequireLogin)
	fmt.Fprintf(&b, "OAuth: {ClientID: %q, ClientSecret: %q}, ", c.OAuth.ClientID, secret)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
