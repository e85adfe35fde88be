package phototag

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"k8s.io/klog/v2"

	"github.com/tstromberg/phototag/pkg/schedule"
)

// Google holds credentials for the labeling service.
type Google struct {
	// Credentials is a service account file, relative to the config directory.
	Credentials string `toml:"credentials"`
	APIKey      string `toml:"api_key"`
}

// Limits bound how much work runs at once.
type Limits struct {
	ImageCount     int    `toml:"image_count" validate:"gte=0"`
	BufferSize     string `toml:"buffer_size" validate:"required"`
	SingleOverride bool   `toml:"single_override"`
}

// Label selects and tunes the labeling service.
type Label struct {
	Backend           string  `toml:"backend" validate:"oneof=vision gemini"`
	Model             string  `toml:"model" validate:"required_if=Backend gemini"`
	MaxLabels         int     `toml:"max_labels" validate:"gte=0"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// Optimize controls the image sent for labeling.
type Optimize struct {
	Size    int `toml:"size" validate:"gt=0"`
	Quality int `toml:"quality" validate:"gte=1,lte=100"`
}

// Config holds configuration for phototag.
type Config struct {
	Google   Google   `toml:"google"`
	Limits   Limits   `toml:"limits"`
	Label    Label    `toml:"label"`
	Optimize Optimize `toml:"optimize"`

	// dir is where the config was loaded from.
	dir string
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Limits: Limits{
			ImageCount:     16,
			BufferSize:     "256 MB",
			SingleOverride: true,
		},
		Label: Label{
			Backend:   "vision",
			Model:     "gemini-2.5-flash",
			MaxLabels: 10,
		},
		Optimize: Optimize{
			Size:    DefaultThumbOpts.X,
			Quality: DefaultThumbOpts.Quality,
		},
	}
}

// DefaultPath is the config file used when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(dir, "phototag", "config.toml"), nil
}

// Load reads the config at path, creating it with defaults if missing.
func Load(path string) (*Config, error) {
	c := Default()
	c.dir = filepath.Dir(path)

	bs, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		klog.Infof("creating default configuration at %s", path)
		if err := c.Save(path); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(bs, c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the config to path, readable only by the owner.
func (c *Config) Save(path string) error {
	bs, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return WriteAtomic(path, bs)
	}
	return os.WriteFile(path, bs, 0o600)
}

// Validate checks field constraints and that the buffer size parses.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if _, err := c.BufferBytes(); err != nil {
		return err
	}
	return nil
}

// BufferBytes parses Limits.BufferSize, such as "256 MB" or "1.5GiB".
func (c *Config) BufferBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Limits.BufferSize)
	if err != nil {
		return 0, fmt.Errorf("%w: buffer_size %q: %v", ErrConfig, c.Limits.BufferSize, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: buffer_size %q is too large", ErrConfig, c.Limits.BufferSize)
	}
	return int64(n), nil
}

// ScheduleLimits converts the limits section for the scheduler.
func (c *Config) ScheduleLimits() (schedule.Limits, error) {
	b, err := c.BufferBytes()
	if err != nil {
		return schedule.Limits{}, err
	}
	return schedule.Limits{
		MaxConcurrent:     c.Limits.ImageCount,
		MaxBytes:          b,
		SingletonOverride: c.Limits.SingleOverride,
	}, nil
}

// ThumbOpts converts the optimize section.
func (c *Config) ThumbOpts() ThumbOpts {
	return ThumbOpts{X: c.Optimize.Size, Y: c.Optimize.Size, Quality: c.Optimize.Quality}
}

// CredentialsPath resolves Google.Credentials against the config directory.
func (c *Config) CredentialsPath() string {
	p := c.Google.Credentials
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Dir is the directory the config lives in.
func (c *Config) Dir() string {
	return c.dir
}

// ApplyEnv lets the environment override credentials.
func (c *Config) ApplyEnv() {
	if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
		c.Google.APIKey = k
	}
	if p := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); p != "" && c.Google.Credentials == "" {
		c.Google.Credentials = p
	}
}
