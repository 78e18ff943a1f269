// Package config loads the gateway's YAML configuration, mirroring the
// teacher's internal/config: go-zero's conf package for decoding, with
// environment variable expansion applied before parsing.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
)

// Config is the on-disk gateway configuration.
type Config struct {
	Host string `json:",default=0.0.0.0"`
	Port int    `json:",default=9333"`

	// TestEndpoints gates /test/browser/* (spec §4.4.1). String-typed like
	// the teacher's feature flags so a bare env-var override ("true"/"1")
	// works without a schema change.
	TestEndpoints string `json:",default=false"`

	RateLimit struct {
		CommandsPerMinute int `json:",default=600"`
		Burst             int `json:",default=100"`
	}

	Log struct {
		Level string `json:",default=info"`
	}
}

// LoadFromBytes loads configuration from YAML bytes with environment
// variable expansion, matching the teacher's config.LoadFromBytes.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := conf.LoadFromYamlBytes([]byte(expanded), &c); err != nil {
		return c, err
	}
	return c, nil
}

// parseBool mirrors the teacher's string-flag convention: "true"/"1"/"yes"
// are true, an empty string falls back to defaultVal, and anything else is
// false.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}

// IsTestEndpointsEnabled reports whether /test/browser/* should be mounted.
func (c Config) IsTestEndpointsEnabled() bool {
	return parseBool(c.TestEndpoints, false)
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Port
	if port == 0 {
		port = 9333
	}
	return fmt.Sprintf("%s:%d", host, port)
}
