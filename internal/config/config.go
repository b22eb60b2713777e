package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "fiftycal/internal/log"
	"fiftycal/internal/reconcile"
)

// Required keys, in the order their absence is reported.
const (
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyCalendarURL = "calendar_url"
	KeyOutputPath  = "output_path"
	KeyCalIDs      = "cal_ids"
)

const (
	defaultHTTPTimeout         = 30 * time.Second
	defaultLogoutRetryInterval = 5 * time.Second
	defaultLogoutMaxWait       = 120 * time.Second
	defaultSchedule            = "*/30 * * * *"
	defaultListen              = "127.0.0.1:8080"
)

// ConfigurationError names one configuration key that is missing or invalid.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: missing required key %q", e.Key)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Username and Password are the webmail login credentials.
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"-"`

	// CalendarURL is the webmail base address, e.g. "https://mail.example.com/".
	CalendarURL string `yaml:"calendar_url" toml:"calendar_url" json:"calendar_url"`

	// OutputPath is the directory holding one <label>.ics file per calendar.
	OutputPath string `yaml:"output_path" toml:"output_path" json:"output_path"`

	// CalIDs maps a local label to the server-side calendar identifier.
	CalIDs map[string]string `yaml:"cal_ids" toml:"cal_ids" json:"cal_ids"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// HTTPTimeout bounds a single feed download.
	HTTPTimeout time.Duration `yaml:"http_timeout" toml:"http_timeout" json:"http_timeout"`

	// Headless runs the login browser without a window. Defaults to true.
	Headless *bool `yaml:"headless" toml:"headless" json:"headless"`

	// LogoutRetryInterval and LogoutMaxWait bound the logout retry loop.
	LogoutRetryInterval time.Duration `yaml:"logout_retry_interval" toml:"logout_retry_interval" json:"logout_retry_interval"`
	LogoutMaxWait       time.Duration `yaml:"logout_max_wait" toml:"logout_max_wait" json:"logout_max_wait"`

	// TiePolicy decides conflicts where neither side has LAST-MODIFIED:
	// "prefer-b" (default) or "reject".
	TiePolicy string `yaml:"tie_policy" toml:"tie_policy" json:"tie_policy"`

	// Schedule is a standard 5-field cron expression used by watch.
	Schedule string `yaml:"schedule" toml:"schedule" json:"schedule"`

	// Listen is the status server address used by watch. Empty disables it.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// BasicAuth, if non-nil, protects every status endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration. Required keys are
// left empty.
func DefaultConfig() *Config {
	headless := true
	return &Config{
		CalIDs:              map[string]string{},
		LogLevel:            "info",
		HTTPTimeout:         defaultHTTPTimeout,
		Headless:            &headless,
		LogoutRetryInterval: defaultLogoutRetryInterval,
		LogoutMaxWait:       defaultLogoutMaxWait,
		TiePolicy:           reconcile.PreferB.String(),
		Schedule:            defaultSchedule,
		Listen:              defaultListen,
	}
}

// Normalize fills in missing/zero optional values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.CalIDs == nil {
		c.CalIDs = map[string]string{}
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.Headless == nil {
		c.Headless = def.Headless
	}
	if c.LogoutRetryInterval <= 0 {
		c.LogoutRetryInterval = def.LogoutRetryInterval
	}
	if c.LogoutMaxWait <= 0 {
		c.LogoutMaxWait = def.LogoutMaxWait
	}
	if c.TiePolicy == "" {
		c.TiePolicy = def.TiePolicy
	}
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	c.CalendarURL = strings.TrimSpace(c.CalendarURL)
}

// Validate reports every missing required key as its own
// *ConfigurationError, joined with errors.Join, followed by any invalid
// optional value. It returns nil when the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key string, empty bool) {
		if empty {
			errs = append(errs, &ConfigurationError{Key: key})
		}
	}
	missing(KeyUsername, c.Username == "")
	missing(KeyPassword, c.Password == "")
	missing(KeyCalendarURL, c.CalendarURL == "")
	missing(KeyOutputPath, c.OutputPath == "")
	missing(KeyCalIDs, len(c.CalIDs) == 0)

	if c.CalendarURL != "" {
		if u, err := url.Parse(c.CalendarURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigurationError{Key: KeyCalendarURL, Reason: "must be an absolute URL"})
		}
	}
	for _, label := range c.Labels() {
		switch {
		case strings.TrimSpace(label) == "" || strings.ContainsAny(label, `/\`):
			errs = append(errs, &ConfigurationError{Key: KeyCalIDs, Reason: fmt.Sprintf("invalid label %q", label)})
		case c.CalIDs[label] == "":
			errs = append(errs, &ConfigurationError{Key: KeyCalIDs, Reason: fmt.Sprintf("label %q has no calendar id", label)})
		}
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, &ConfigurationError{Key: "log_level", Reason: err.Error()})
	}
	if _, err := reconcile.ParseTiePolicy(c.TiePolicy); err != nil {
		errs = append(errs, &ConfigurationError{Key: "tie_policy", Reason: err.Error()})
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, &ConfigurationError{Key: "schedule", Reason: err.Error()})
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		errs = append(errs, &ConfigurationError{Key: "basic_auth", Reason: "username and password are both required"})
	}
	return errors.Join(errs...)
}

// Labels returns the configured labels in sorted order.
func (c *Config) Labels() []string {
	out := make([]string, 0, len(c.CalIDs))
	for label := range c.CalIDs {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Tie returns the parsed tie policy; invalid values fall back to PreferB and
// are reported by Validate.
func (c *Config) Tie() reconcile.TiePolicy {
	p, _ := reconcile.ParseTiePolicy(c.TiePolicy)
	return p
}

// IsHeadless reports the effective headless setting.
func (c *Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads, normalizes and validates the configuration at path. The format
// is TOML for ".toml" files and YAML otherwise.
//
// If the file does not exist, a template with defaults is written there
// (0600) and validation then reports the required keys still to fill in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		appLog.Info("wrote config template", "path", path)
		return nil, cfg.Validate()
	}

	cfg, err := Decode(data, isTOML(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses and normalizes configuration bytes without validating them.
func Decode(data []byte, asTOML bool) (*Config, error) {
	var cfg Config
	if asTOML {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var data []byte
	if isTOML(path) {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return err
		}
		data = []byte(b.String())
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".fiftycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
