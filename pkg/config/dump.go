package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Dump renders the effective configuration as YAML with secrets redacted.
// Used by the "rfvault config" command.
func (c *Config) Dump() ([]byte, error) {
	cp := *c

	if cp.Database.Postgres.Password != "" {
		cp.Database.Postgres.Password = redacted
	}

	if cp.Storage.S3 != nil {
		s3 := *cp.Storage.S3
		if s3.SecretAccessKey != "" {
			s3.SecretAccessKey = redacted
		}

		cp.Storage.S3 = &s3
	}

	out, err := yaml.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}

	return out, nil
}
