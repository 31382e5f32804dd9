package erp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

// Sentinel errors
var (
	// ErrAuthenticationFailed is returned when the identity check yields anything but a positive user id
	ErrAuthenticationFailed = errors.New("erp: authentication failed")
	// ErrInvalidSession is returned for an incomplete SessionConfig
	ErrInvalidSession = errors.New("erp: invalid session configuration")
	// ErrUnexpectedResult is returned when a well-formed response has the wrong shape for the call
	ErrUnexpectedResult = errors.New("erp: unexpected result")
)

// AuthenticationError carries the value the identity check returned.
type AuthenticationError struct {
	Database string
	Login    string
	Got      xmlrpc.Value
}

func (e *AuthenticationError) Error() string {
	got, err := json.Marshal(e.Got)
	if err != nil {
		got = []byte(e.Got.Kind().String())
	}
	return fmt.Sprintf("%s: database %q login %q: got %s", ErrAuthenticationFailed, e.Database, e.Login, got)
}

func (e *AuthenticationError) Unwrap() error {
	return ErrAuthenticationFailed
}
