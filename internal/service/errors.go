package service

import (
	"errors"
	"fmt"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
)

// Code is a machine-readable reason for an authentication or authorization
// failure. Codes are stable API surface; messages are not.
type Code string

const (
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeTokenInactive           Code = "TOKEN_INACTIVE"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeIPRestricted            Code = "IP_RESTRICTED"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeInsufficientScopes      Code = "INSUFFICIENT_SCOPES"
	CodeInvalidCredential       Code = "INVALID_CREDENTIAL"
)

// AccessError is a failed validation outcome. Authentication failures
// (unknown secret, inactive, expired, IP-restricted) deliberately carry no
// detail about why a particular secret failed; authorization failures name
// the missing permission or scope, since the caller already holds a valid
// credential.
type AccessError struct {
	Code    Code
	Message string

	// Status is set for CodeTokenInactive to distinguish expired from
	// revoked in logs and tests. It is not exposed to unauthenticated
	// callers.
	Status model.TokenStatus
}

func (e *AccessError) Error() string {
	return e.Message
}

// AsAccessError unwraps err into an *AccessError if it is one.
func AsAccessError(err error) (*AccessError, bool) {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func errInvalidToken() *AccessError {
	// Identical externally-visible error whether the secret is malformed or
	// simply unknown, to avoid enumeration.
	return &AccessError{Code: CodeInvalidToken, Message: "invalid token"}
}

func errTokenInactive(status model.TokenStatus) *AccessError {
	return &AccessError{
		Code:    CodeTokenInactive,
		Message: fmt.Sprintf("token is %s", status),
		Status:  status,
	}
}

func errTokenExpired() *AccessError {
	return &AccessError{Code: CodeTokenExpired, Message: "token has expired"}
}

func errIPRestricted(clientIP string) *AccessError {
	msg := "IP address required for this token"
	if clientIP != "" {
		msg = fmt.Sprintf("IP address %s not allowed for this token", clientIP)
	}
	return &AccessError{Code: CodeIPRestricted, Message: msg}
}

func errInsufficientPermission(name string) *AccessError {
	return &AccessError{
		Code:    CodeInsufficientPermissions,
		Message: fmt.Sprintf("insufficient permissions: %s", name),
	}
}

func errInsufficientScope(name string) *AccessError {
	return &AccessError{
		Code:    CodeInsufficientScopes,
		Message: fmt.Sprintf("insufficient scopes: %s", name),
	}
}

// FieldError is a rejected input at issuance or update time. It names the
// offending field so the HTTP layer can return a structured 400.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// AsFieldError unwraps err into a *FieldError if it is one.
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ErrInvalidCredentials is returned by Login when the email or password is
// wrong, without distinguishing which.
var ErrInvalidCredentials = errors.New("invalid credentials")
