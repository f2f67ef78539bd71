package config

import (
	"fmt"
	"strings"
)

// InitError is fatal to the whole process: the audience client cannot be
// built. It is reported once at initialization.
type InitError struct {
	Key     string
	Message string
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("initialization failed: %s: %s", e.Key, e.Message)
}

// Credentials is an API key split into its secret and data-center parts.
type Credentials struct {
	Key    string
	Server string
}

// ParseCredentials splits a key of the form "<secret>-<server>".
func ParseCredentials(apiKey string) (Credentials, error) {
	parts := strings.Split(strings.TrimSpace(apiKey), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Credentials{}, &InitError{
			Key:     KeyAPIKey,
			Message: `API key must have the form "<key>-<server>"`,
		}
	}
	return Credentials{Key: parts[0], Server: parts[1]}, nil
}
