package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes a single invalid configuration setting.
type ValidationError struct {
	// Key is the dotted setting name, such as "ssh.port".
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting '%s': %s", e.Key, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for invalid settings. Every problem
// found is reported as a *ValidationError, combined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, &ValidationError{Key: settingKey(fe), Reason: reason(fe)})
		}
	}

	if c.Monitor.Enabled && c.Monitor.Port == c.SSH.Port {
		errs = append(errs, &ValidationError{
			Key:    "monitor.port",
			Reason: fmt.Sprintf("port %d is already used by the SSH listener", c.SSH.Port),
		})
	}
	if c.Monitor.Enabled && c.Monitor.EnableTLS && (c.Monitor.CertPath == "" || c.Monitor.KeyPath == "") {
		errs = append(errs, &ValidationError{
			Key:    "monitor.enable_tls",
			Reason: "cert_path and key_path are required when TLS is enabled",
		})
	}

	return errors.Join(errs...)
}

// settingKey strips the root struct name from the validator namespace,
// turning "Config.ssh.port" into "ssh.port".
func settingKey(fe validator.FieldError) string {
	_, key, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return key
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "a value is required"
	case "required_with", "required_if":
		return "a value is required by a related setting"
	case "oneof":
		return fmt.Sprintf("'%v' must be one of: %s", fe.Value(), fe.Param())
	case "ip":
		return fmt.Sprintf("'%v' is not a valid IP address", fe.Value())
	case "url":
		return fmt.Sprintf("'%v' is not a valid URL", fe.Value())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("'%v' fails the '%s=%s' check", fe.Value(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("'%v' fails the '%s' check", fe.Value(), fe.Tag())
}
