// Package bridgeserver exposes the telescope engine over a REST API.
package bridgeserver

import (
	"fmt"
	"time"
)

// Config holds the HTTP server configuration.
type Config struct {
	Server ServerConfig `json:"server" mapstructure:"server"`
	CORS   CORSConfig   `json:"cors" mapstructure:"cors"`
	Auth   AuthConfig   `json:"auth" mapstructure:"auth"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// ListenAddress is the host:port to bind (default ":8480")
	ListenAddress string `json:"listen_address" mapstructure:"listen_address"`
	// ReadTimeout bounds reading the request including the body
	ReadTimeout time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	// WriteTimeout bounds writing the response
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// CORSConfig controls cross-origin request headers.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" mapstructure:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" mapstructure:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" mapstructure:"allow_credentials"`
	MaxAge           int      `json:"max_age" mapstructure:"max_age"`
}

// AuthConfig controls bearer-token authentication.
type AuthConfig struct {
	// Enabled turns on JWT validation for all API routes
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// JWTSecret is the HMAC signing secret tokens must verify against
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret"`
}

// Validate checks the configuration and fills in defaults. The goto wait can
// exceed two minutes, so the write timeout default leaves headroom for it.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8480"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = 3600
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret is empty")
	}

	return nil
}
