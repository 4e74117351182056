package provider

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from a provider's HTTP API.
type APIError struct {
	// Provider is the provider identifier.
	Provider string

	// StatusCode is the HTTP status returned by the API.
	StatusCode int

	// Message is the provider's error message, when one was parseable.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Provider, e.StatusCode, e.Message)
}

// StatusOf extracts the upstream HTTP status from an error chain.
// Returns 0 when the error did not originate from a provider API response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
