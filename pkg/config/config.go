// Package config provides the ambient configuration layer: defaults,
// environment overrides, and YAML file loading, in the vein of an
// ansible.cfg but backed by a flat key/value store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// Config is a flat, concurrency-safe key/value configuration store.
type Config struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// New creates a configuration manager seeded with defaults and any
// matching environment variable overrides.
func New() *Config {
	c := &Config{data: make(map[string]interface{})}
	c.loadDefaults()
	c.loadFromEnv()
	return c
}

// Get retrieves a raw configuration value.
func (c *Config) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// GetString retrieves a configuration value coerced to string.
func (c *Config) GetString(key string) string {
	return toString(c.Get(key))
}

// GetInt retrieves a configuration value coerced to int.
func (c *Config) GetInt(key string) int {
	v, _ := toInt(c.Get(key))
	return v
}

// GetBool retrieves a configuration value coerced to bool.
func (c *Config) GetBool(key string) bool {
	return toBool(c.Get(key))
}

// GetStringSlice retrieves a configuration value as a string slice,
// splitting comma-separated strings.
func (c *Config) GetStringSlice(key string) []string {
	switch v := c.Get(key).(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = toString(item)
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return nil
	}
}

// Set stores a configuration value.
func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Load merges a YAML configuration file on top of the current values.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &types.ConfigError{Key: path, Message: "read config file: " + err.Error()}
	}
	var loaded map[string]interface{}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return &types.ConfigError{Key: path, Message: "parse config yaml: " + err.Error()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range loaded {
		c.data[k] = v
	}
	return nil
}

// Save writes the current configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	snapshot := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return &types.ConfigError{Key: path, Message: "marshal config: " + err.Error()}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &types.ConfigError{Key: path, Message: "create config dir: " + err.Error()}
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &types.ConfigError{Key: path, Message: "write config file: " + err.Error()}
	}
	return nil
}

// Defaults returns the built-in default configuration values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"timeout":                 30,
		"forks":                   5,
		"gather_facts":            true,
		"host_key_checking":       true,
		"retry_files_enabled":     false,
		"log_path":                "",
		"private_key_file":        "",
		"remote_user":             "",
		"become":                  false,
		"become_method":           "sudo",
		"become_user":             "root",
		"become_ask_pass":         false,
		"ask_pass":                false,
		"transport":               "ssh",
		"remote_port":             22,
		"gathering":               "smart",
		"fact_caching":            false,
		"fact_caching_connection": "",
		"fact_caching_timeout":    86400,
		"stdout_callback":         "default",
		"callback_whitelist":      []string{},
		"sudo_flags":              "-H -S -n",
		"display_skipped_hosts":   true,
		"display_ok_hosts":        true,
		"error_on_undefined_vars": false,
		"system_warnings":         true,
		"deprecation_warnings":    true,
		"command_warnings":        false,
		"diff_always":             false,
		"diff_context":            3,
		"show_custom_stats":       false,
		"hash_behaviour":          "replace",
		"vault_password_file":     "",
		"state_backend":           "memory",
		"state_dir":               "",
	}
}

func (c *Config) loadDefaults() {
	for k, v := range Defaults() {
		c.data[k] = v
	}
}

var envKeys = []string{
	"timeout", "forks", "gather_facts", "host_key_checking", "retry_files_enabled",
	"log_path", "private_key_file", "remote_user", "become", "become_method",
	"become_user", "become_ask_pass", "ask_pass", "transport", "remote_port",
	"gathering", "fact_caching", "stdout_callback", "display_skipped_hosts",
	"display_ok_hosts", "error_on_undefined_vars", "system_warnings",
	"deprecation_warnings", "command_warnings", "hash_behaviour",
	"vault_password_file", "state_backend", "state_dir",
}

// envPrefix names the environment variable namespace: GOSINBLE_TIMEOUT,
// GOSINBLE_FORKS, and so on.
const envPrefix = "GOSINBLE_"

func (c *Config) loadFromEnv() {
	for _, key := range envKeys {
		envVar := envPrefix + strings.ToUpper(key)
		if value, ok := os.LookupEnv(envVar); ok {
			c.setFromEnv(key, value)
		}
	}
}

func (c *Config) setFromEnv(key, value string) {
	switch existing := c.data[key].(type) {
	case bool:
		if b, err := strconv.ParseBool(value); err == nil {
			c.data[key] = b
			return
		}
	case int:
		if i, err := strconv.Atoi(value); err == nil {
			c.data[key] = i
			return
		}
	case []string:
		c.data[key] = strings.Split(value, ",")
		return
	default:
		_ = existing
	}
	c.data[key] = value
}

// All returns a copy of every configuration value currently set.
func (c *Config) All() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Has reports whether key has been set (including via defaults).
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// SearchPaths returns the conventional locations a config file is
// looked up from, in priority order: cwd, then home, then /etc.
func SearchPaths() []string {
	paths := []string{"./gosinble.yaml", "./gosinble.yml", "./.gosinble.yaml", "./.gosinble.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".gosinble.yaml"),
			filepath.Join(home, ".gosinble.yml"),
			filepath.Join(home, ".config", "gosinble", "config.yaml"),
			filepath.Join(home, ".config", "gosinble", "config.yml"),
		)
	}
	paths = append(paths, "/etc/gosinble/config.yaml", "/etc/gosinble/config.yml")
	return paths
}

// LoadFromDefaultPaths loads the first existing file from SearchPaths,
// silently falling back to defaults if none exist.
func (c *Config) LoadFromDefaultPaths() error {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return c.Load(path)
		}
	}
	return nil
}

// Validate checks that the configuration's cross-field invariants hold.
func (c *Config) Validate() error {
	if timeout := c.GetInt("timeout"); timeout <= 0 {
		return &types.ValidationError{Field: "timeout", Message: "must be positive"}
	}
	if forks := c.GetInt("forks"); forks <= 0 {
		return &types.ValidationError{Field: "forks", Message: "must be positive"}
	}
	transport := c.GetString("transport")
	if !oneOf(transport, "ssh", "local", "winrm") {
		return &types.ValidationError{Field: "transport", Message: fmt.Sprintf("invalid transport %q", transport)}
	}
	becomeMethod := c.GetString("become_method")
	if !oneOf(becomeMethod, "sudo", "su", "pbrun", "pfexec", "runas") {
		return &types.ValidationError{Field: "become_method", Message: fmt.Sprintf("invalid become method %q", becomeMethod)}
	}
	return nil
}

func oneOf(value string, options ...string) bool {
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

// Default is the package-level configuration instance used when no
// explicit Config is threaded through.
var Default = New()
