package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lightbox/internal/assetcache"
	"github.com/starford/lightbox/internal/grid"
	"github.com/starford/lightbox/internal/resolver"
	"github.com/starford/lightbox/internal/transfer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Library  LibraryConfig     `yaml:"library"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Grid     GridConfig        `yaml:"grid"`
	Cache    CacheConfig       `yaml:"cache"`
	Transfer TransferConfig    `yaml:"transfer"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Transfer.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LibraryConfig describes the photo collection and where layered masters live.
//
// LayeredRoots are probed in order; each candidate is
// <root>/<collection>/<LayeredSuffix>/<stem><ext>.
type LibraryConfig struct {
	Root              string        `yaml:"root"`
	LayeredRoots      []string      `yaml:"layered_roots"`
	LayeredSuffix     string        `yaml:"layered_suffix"`
	LayeredExtensions []string      `yaml:"layered_extensions"`
	ReachTimeout      time.Duration `yaml:"reach_timeout"`
	Watch             bool          `yaml:"watch"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	if len(c.LayeredRoots) == 0 && c.Root != "" {
		c.LayeredRoots = []string{c.Root}
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.LayeredRoots, validation.Each(validation.Required)),
		validation.Field(&c.LayeredExtensions, validation.Each(validation.Required, validation.By(dotted))),
		validation.Field(&c.ReachTimeout, validation.Min(time.Duration(0))),
	)
}

func dotted(v any) error {
	s, _ := v.(string)
	if !strings.HasPrefix(s, ".") {
		return fmt.Errorf("extension %q must start with a dot", s)
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// GridConfig holds thumbnail grid pagination and layout settings.
type GridConfig struct {
	InitialLimit     int `yaml:"initial_limit"`
	PageIncrement    int `yaml:"page_increment"`
	ThumbnailSize    int `yaml:"thumbnail_size"`
	ThumbnailPadding int `yaml:"thumbnail_padding"`
}

// Validate validates the grid configuration.
func (c *GridConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.InitialLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.PageIncrement, validation.Required, validation.Min(1)),
		validation.Field(&c.ThumbnailSize, validation.Required, validation.Min(16), validation.Max(1024)),
		validation.Field(&c.ThumbnailPadding, validation.Min(0)),
	)
}

// CacheConfig sizes the decoded-image caches.
type CacheConfig struct {
	MaxEntries     int `yaml:"max_entries"`
	PreviewEntries int `yaml:"preview_entries"`
	PreviewMaxEdge int `yaml:"preview_max_edge"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.PreviewEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.PreviewMaxEdge, validation.Required, validation.Min(64)),
	)
}

// TransferConfig holds copy-job settings.
type TransferConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	RevealOnComplete bool   `yaml:"reveal_on_complete"`
	Destination      string `yaml:"destination"`
}

// Validate validates the transfer configuration.
func (c *TransferConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(4096)),
		validation.Field(&c.MaxConcurrent, validation.Min(0)),
	)
}

// GridSettings converts the grid and cache sections for the grid controller.
func (c *Config) GridSettings() grid.Config {
	return grid.Config{
		InitialLimit:     c.Grid.InitialLimit,
		PageIncrement:    c.Grid.PageIncrement,
		ThumbnailSize:    c.Grid.ThumbnailSize,
		ThumbnailPadding: c.Grid.ThumbnailPadding,
		CacheEntries:     c.Cache.MaxEntries,
		PreviewEntries:   c.Cache.PreviewEntries,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Library: LibraryConfig{
			Root:              "./photos",
			LayeredSuffix:     resolver.DefaultSuffix,
			LayeredExtensions: append([]string(nil), resolver.DefaultExtensions...),
			ReachTimeout:      2 * time.Second,
			Watch:             true,
		},
		SQLite: SQLiteConfig{
			Path: "./lightbox.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Grid: GridConfig{
			InitialLimit:     60,
			PageIncrement:    60,
			ThumbnailSize:    200,
			ThumbnailPadding: 12,
		},
		Cache: CacheConfig{
			MaxEntries:     assetcache.MaxCacheSize,
			PreviewEntries: 8,
			PreviewMaxEdge: 2048,
		},
		Transfer: TransferConfig{
			ChunkSize:        transfer.DefaultChunkSize,
			MaxConcurrent:    0,
			RevealOnComplete: true,
		},
	}
}
