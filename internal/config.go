package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/crypto/bcrypt"
)

// Storage drivers.
const (
	StorageDriverJSON   = "json"
	StorageDriverSQLite = "sqlite"
)

// Collection file names inside the data directory.
const (
	RecordsFile = "records.json"
	UsersFile   = "users.json"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	Auth    AuthConfig        `yaml:"auth"`
	Export  ExportConfig      `yaml:"export"`
	Events  EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	return c.Events.Validate()
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
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.CORSOrigins, validation.Each(validation.Required)),
	)
}

// StorageConfig selects where records and users are kept.
type StorageConfig struct {
	Driver     string `yaml:"driver"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = StorageDriverJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(StorageDriverJSON, StorageDriverSQLite)),
		validation.Field(&c.DataDir, validation.When(c.Driver == StorageDriverJSON, validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.Driver == StorageDriverSQLite, validation.Required)),
	)
}

// AuthConfig holds authentication configuration.
//
// JWTSecret has no default: startup fails until one is supplied, usually
// through ${JWT_SECRET} in the config file.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	Admins         []string      `yaml:"admins"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
	ProtectUpdates bool          `yaml:"protect_updates"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("auth: jwt_secret is required")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.Admins, validation.Each(validation.Required, is.EmailFormat)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
	)
}

// ExportConfig holds spreadsheet export settings.
type ExportConfig struct {
	SheetName string `yaml:"sheet_name"`
	Filename  string `yaml:"filename"`
	TmpDir    string `yaml:"tmp_dir"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		// Excel limits sheet names to 31 characters.
		validation.Field(&c.SheetName, validation.Required, validation.Length(1, 31)),
		validation.Field(&c.Filename, validation.Required),
	)
}

// EventsConfig controls live update notifications.
type EventsConfig struct {
	Throttle time.Duration `yaml:"throttle"`
	Watch    bool          `yaml:"watch"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Throttle, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
// The JWT secret is intentionally left empty.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:        3001,
				CORSOrigins: []string{"*"},
			},
		},
		Storage: StorageConfig{
			Driver:     StorageDriverJSON,
			DataDir:    "./data",
			SQLitePath: "./data/assistenze.db",
		},
		Auth: AuthConfig{
			TokenTTL:       2 * time.Hour,
			BcryptCost:     bcrypt.DefaultCost,
			ProtectUpdates: true,
		},
		Export: ExportConfig{
			SheetName: "Assistenze",
			Filename:  "report-assistenze.xlsx",
		},
		Events: EventsConfig{
			Throttle: 2 * time.Second,
			Watch:    true,
		},
	}
}
