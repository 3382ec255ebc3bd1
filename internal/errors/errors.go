package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway
var (
	// Configuration errors
	ErrConfiguration          = errors.New("configuration error")
	ErrInvalidErrorPage       = errors.New("invalid error page")
	ErrInvalidLandingPage     = errors.New("invalid landing page")
	ErrInvalidCustomHostName  = errors.New("invalid custom host name")
	ErrDuplicateProvider      = errors.New("identity provider already registered")
	ErrUnknownProviderType    = errors.New("unknown identity provider type")
	ErrRegistrySealed         = errors.New("identity provider registry is sealed")
	ErrRegistryNotSealed      = errors.New("identity provider registry is not sealed")
	ErrRegistryAlreadyApplied = errors.New("identity provider registry already applied")
	ErrOptionsSealed          = errors.New("options are sealed")
	ErrAlreadyConfigured      = errors.New("extension point already configured")
	ErrInvalidRoute           = errors.New("invalid proxy route")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrNoRefreshToken  = errors.New("no refresh token")
	ErrRefreshFailed   = errors.New("token refresh failed")

	// Authentication flow errors
	ErrInvalidState     = errors.New("invalid state")
	ErrExchangeFailed   = errors.New("authorization code exchange failed")
	ErrCallbackRejected = errors.New("authentication callback rejected")
	ErrClaimsTransform  = errors.New("claims transformation failed")

	// Proxy errors
	ErrUnknownCluster = errors.New("unknown cluster")

	// General errors
	ErrNotFound = errors.New("not found")
)

// ConfigurationError is a startup-time failure. It carries a stable diagnostic
// code and always matches ErrConfiguration.
type ConfigurationError struct {
	Code    string
	Message string
	Err     error
}

// NewConfigurationError builds a ConfigurationError wrapping err.
func NewConfigurationError(code string, err error, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *ConfigurationError) Error() string {
	if e.Code == "" {
		return "Cannot initialize BFF. " + e.Message
	}
	return e.Code + ": Cannot initialize BFF. " + e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsConfiguration reports whether err is a startup-time configuration failure
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// New is errors.New, re-exported so callers need a single errors import
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
