package oauth

import (
	"errors"
	"net/http"
)

// Error es un error OAuth2 (RFC 6749 §5.2) con el status HTTP a responder.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidScope         = "invalid_scope"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeAccessDenied         = "access_denied"
	CodeMFARequired          = "mfa_required"
)

func invalidRequest(desc string) *Error {
	return &Error{Code: CodeInvalidRequest, Description: desc, Status: http.StatusBadRequest}
}

func invalidGrant(desc string) *Error {
	return &Error{Code: CodeInvalidGrant, Description: desc, Status: http.StatusBadRequest}
}

// unauthorized: credenciales o tokens rechazados.
func unauthorized(desc string) *Error {
	return &Error{Code: CodeInvalidGrant, Description: desc, Status: http.StatusUnauthorized}
}

func invalidScope() *Error {
	return &Error{Code: CodeInvalidScope, Description: "scope inválido", Status: http.StatusBadRequest}
}

func unsupportedGrant(gt string) *Error {
	return &Error{Code: CodeUnsupportedGrantType, Description: "grant_type no soportado: " + gt, Status: http.StatusBadRequest}
}

// AsError extrae un *Error de la cadena de err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
