package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/index/pgindex"
	"github.com/starford/carenotes/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModePassword = "password"
)

// Index drivers.
const (
	IndexDriverSQLite   = "sqlite"
	IndexDriverPostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Vault VaultConfig       `yaml:"vault"`
	Index IndexConfig       `yaml:"index"`
	Auth  AuthConfig        `yaml:"auth"`
	Media MediaConfig       `yaml:"media"`
	MCP   MCPConfig         `yaml:"mcp"`
	Feed  FeedConfig        `yaml:"feed"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Vault, &c.Index, &c.Auth, &c.Media, &c.MCP, &c.Feed} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
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
	// PublicURL is the externally visible URL of the API root. Signed media
	// links are built on it; empty means derive from each request.
	PublicURL string `yaml:"public_url"`
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

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig selects and configures the query index.
type IndexConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres pgindex.Config `yaml:"postgres"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = IndexDriverSQLite
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(IndexDriverSQLite, IndexDriverPostgres)),
	); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if c.Driver == IndexDriverSQLite {
		return c.SQLite.Validate()
	}
	pg := &c.Postgres
	if err := validation.ValidateStruct(pg,
		validation.Field(&pg.Host, validation.Required),
		validation.Field(&pg.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&pg.Username, validation.Required),
		validation.Field(&pg.DatabaseName, validation.Required),
		validation.Field(&pg.SSLMode, validation.In("disable", "allow", "prefer", "require", "verify-ca", "verify-full")),
	); err != nil {
		return fmt.Errorf("index.postgres: %w", err)
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
//   - "disabled" (default): every request acts as Anonymous, suitable for local use.
//   - "password": users log in with a name and password and receive a bearer token.
type AuthConfig struct {
	Mode       string        `yaml:"mode"`
	Users      []auth.User   `yaml:"users"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	// LoginRate is the sustained number of login attempts per second
	// allowed from one address; LoginBurst bounds short spikes.
	LoginRate  float64          `yaml:"login_rate"`
	LoginBurst int              `yaml:"login_burst"`
	Anonymous  models.Principal `yaml:"anonymous"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModePassword)),
		validation.Field(&c.SessionTTL, validation.Min(time.Minute)),
		validation.Field(&c.LoginRate, validation.Min(0.0)),
		validation.Field(&c.LoginBurst, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Mode == AuthModePassword && len(c.Users) == 0 {
		return fmt.Errorf("auth: mode is %q but no users are configured", AuthModePassword)
	}
	seen := make(map[string]bool, len(c.Users))
	for i := range c.Users {
		u := &c.Users[i]
		if err := validation.ValidateStruct(u,
			validation.Field(&u.ID, validation.Required),
			validation.Field(&u.Name, validation.Required),
			validation.Field(&u.PasswordHash, validation.Required),
		); err != nil {
			return fmt.Errorf("auth: users[%d]: %w", i, err)
		}
		if seen[u.Name] {
			return fmt.Errorf("auth: duplicate user %q", u.Name)
		}
		seen[u.Name] = true
	}
	if c.Mode == AuthModeDisabled && c.Anonymous.UserID == "" {
		return errors.New("auth: anonymous.user_id is required when authentication is disabled")
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModePassword
}

// LoginLimit converts LoginRate for the rate limiter.
func (c *AuthConfig) LoginLimit() rate.Limit {
	return rate.Limit(c.LoginRate)
}

// MediaConfig configures signed media URLs. An empty Secret makes the server
// generate one per process, which invalidates links on restart.
type MediaConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Secret, validation.Length(16, 0)),
		validation.Field(&c.TTL, validation.Min(time.Second), validation.Max(time.Hour)),
	); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	return nil
}

// MCPConfig names the principal MCP tools act as.
type MCPConfig struct {
	User models.Principal `yaml:"user"`
}

// Validate validates the MCP configuration.
func (c *MCPConfig) Validate() error {
	if err := validation.ValidateStruct(&c.User,
		validation.Field(&c.User.UserID, validation.Required),
	); err != nil {
		return fmt.Errorf("mcp.user: %w", err)
	}
	return nil
}

// FeedConfig holds defaults for the feed client hosted by the watch command.
type FeedConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	// Refresh is a cron spec for background refreshes, e.g. "@every 30s".
	Refresh string `yaml:"refresh"`
	Limit   int    `yaml:"limit"`
}

var cronSpec = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
})

// Validate validates the feed configuration.
func (c *FeedConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Max(5*time.Second)),
		validation.Field(&c.Refresh, cronSpec),
		validation.Field(&c.Limit, validation.Min(0), validation.Max(500)),
	); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
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
		Vault: VaultConfig{
			Path: "./vault",
		},
		Index: IndexConfig{
			Driver: IndexDriverSQLite,
			SQLite: SQLiteConfig{
				Path: "./carenotes.db",
			},
			Postgres: pgindex.Config{
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Auth: AuthConfig{
			Mode:       AuthModeDisabled,
			SessionTTL: 24 * time.Hour,
			LoginRate:  1,
			LoginBurst: 5,
			Anonymous:  models.Principal{UserID: "local", Name: "local"},
		},
		Media: MediaConfig{
			TTL: 5 * time.Minute,
		},
		MCP: MCPConfig{
			User: models.Principal{UserID: "local", Name: "local"},
		},
		Feed: FeedConfig{
			Debounce: 500 * time.Millisecond,
			Refresh:  "@every 30s",
			Limit:    50,
		},
	}
}
