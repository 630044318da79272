package client

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgconfig "github.com/starford/carenotes/pkg/config"
)

// Credentials is the signed-in session stored between CLI invocations.
type Credentials struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token,omitempty"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name,omitempty"`
}

// Validate implements pkg/config.Validator.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server, validation.Required, validation.By(httpURL)),
		validation.Field(&c.UserID, validation.Required),
	)
}

func httpURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// DefaultCredentialsPath is ~/.carenotes/client.yaml.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".carenotes", "client.yaml")
	}
	return filepath.Join(home, ".carenotes", "client.yaml")
}

// ErrNotLoggedIn is returned when no credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in")

// LoadCredentials reads the stored session.
func LoadCredentials(path string) (Credentials, error) {
	var c Credentials
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return c, ErrNotLoggedIn
	}
	if err := pkgconfig.Load(path, &c); err != nil {
		return c, err
	}
	return c, nil
}

// SaveCredentials writes the session with owner-only permissions.
func SaveCredentials(path string, c Credentials) error {
	return pkgconfig.Save(path, &c)
}

// RemoveCredentials deletes the stored session. A missing file is not an
// error.
func RemoveCredentials(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
