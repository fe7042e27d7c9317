package db

import (
	"fmt"
	"net/url"

	"github.com/brainfit/brainfit/pkg/check"
)

const sslModeDisable = "disable"

// DefaultConfig returns the default configuration of the database. The run history is disabled
// until a host is set.
func DefaultConfig() *Config {
	return &Config{
		Port:    "5432",
		Name:    "brainfit",
		SSLMode: sslModeDisable,
	}
}

// Config hosts configuration fields of the database.
type Config struct {
	User        string `json:"user"`
	Password    string `json:"password"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Name        string `json:"name"`
	SSLMode     string `json:"ssl_mode"`
	SSLRootCert string `json:"ssl_root_cert"`
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	if !c.Enabled() {
		return nil
	}
	return []error{
		check.NotEmpty(c.Port, "db port must be set"),
		check.NotEmpty(c.Name, "db name must be set"),
		check.NotEmpty(c.User, "db user must be set"),
	}
}

// URL renders the connection string.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Name,
	}
	q := url.Values{}
	q.Set("application_name", "brainfit")
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		q.Set("sslrootcert", c.SSLRootCert)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Printable returns a copy of c with the password masked.
func (c Config) Printable() Config {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}
