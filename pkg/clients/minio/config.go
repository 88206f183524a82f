package minio

import (
	"errors"
	"time"
)

const maxStatementTruncateLen = 100

const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "gateway"
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a redacted secret key.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Value returns the plaintext.
func (s Secret) Value() string { return string(s) }

// Config configures the S3-compatible store holding the credential
// document.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" env:"USE_SSL"`

	// Bucket holds gateway documents. It doubles as the health probe.
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET"`
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.SecretKey == "" {
		return errors.New("minio: config secret_key must not be empty")
	}
	return nil
}

func truncateStatement(s string) string {
	if len(s) <= maxStatementTruncateLen {
		return s
	}
	return s[:maxStatementTruncateLen] + "..."
}
