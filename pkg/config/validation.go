package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	for i, u := range cfg.Remote.Backend.Users {
		if names[u.Name] {
			return fmt.Errorf("remote.backend.users[%d]: duplicate user %q", i, u.Name)
		}
		if u.Name == cfg.Remote.ProxyAdmin.Username {
			return fmt.Errorf("remote.backend.users[%d]: %q is the proxy admin", i, u.Name)
		}
		names[u.Name] = true
	}

	if cfg.Content.Type == "s3" {
		if cfg.Content.S3["bucket"] == nil || cfg.Content.S3["region"] == nil {
			return fmt.Errorf("content.s3: bucket and region are required")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics.port: %d is already used by the server", cfg.Metrics.Port)
	}
	return nil
}

// formatValidationError reports the first failing field by its namespace.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
