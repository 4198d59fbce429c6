package callback

import (
	"errors"
	"fmt"
)

var (
	ErrStateMismatch = errors.New("callback: state does not match request")
	ErrMissingCode   = errors.New("callback: no authorization code")
)

// Result is the single redirect captured by a Listener.
type Result struct {
	Code             string `json:"code,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ProviderError is an error reported by the authorization server in the
// redirect itself.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return "authorization denied: " + e.Code
	}
	return fmt.Sprintf("authorization denied: %s: %s", e.Code, e.Description)
}

// Validate checks the result against the state sent with the request.
func (r *Result) Validate(expectedState string) error {
	if r.Error != "" {
		return &ProviderError{Code: r.Error, Description: r.ErrorDescription}
	}
	if r.State != expectedState {
		return ErrStateMismatch
	}
	if r.Code == "" {
		return ErrMissingCode
	}
	return nil
}

func (r *Result) describe() string {
	if r.Error != "" {
		return (&ProviderError{Code: r.Error, Description: r.ErrorDescription}).Error()
	}
	return ErrMissingCode.Error()
}
