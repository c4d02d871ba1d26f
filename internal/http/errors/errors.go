// Package errors define el error estándar de la API JSON (no OAuth2) y su
// serialización.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AppError es el error que los handlers devuelven al cliente.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// FromError convierte cualquier error en AppError; lo desconocido es 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail devuelve una copia, los errores del catálogo no se mutan.
func (e *AppError) WithDetail(detail string) *AppError {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause devuelve una copia con la causa.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

var (
	ErrBadRequest          = New(http.StatusBadRequest, "BAD_REQUEST", "La solicitud contiene sintaxis inválida o parámetros faltantes.")
	ErrInvalidJSON         = New(http.StatusBadRequest, "INVALID_JSON", "El cuerpo de la solicitud no es un JSON válido.")
	ErrMissingFields       = New(http.StatusBadRequest, "MISSING_FIELDS", "Faltan campos requeridos en la solicitud.")
	ErrPolicyViolation     = New(http.StatusBadRequest, "POLICY_VIOLATION", "La solicitud no cumple la política del tenant.")
	ErrInvalidMFACode      = New(http.StatusBadRequest, "INVALID_MFA_CODE", "El código MFA es inválido.")
	ErrUnauthorized        = New(http.StatusUnauthorized, "UNAUTHORIZED", "No autorizado. Se requiere autenticación.")
	ErrInvalidCredentials  = New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Las credenciales proporcionadas son inválidas.")
	ErrTokenMissing        = New(http.StatusUnauthorized, "TOKEN_MISSING", "No se proporcionó token de autenticación.")
	ErrTokenExpired        = New(http.StatusUnauthorized, "TOKEN_EXPIRED", "El token de acceso ha expirado.")
	ErrTokenInvalid        = New(http.StatusUnauthorized, "TOKEN_INVALID", "El token de acceso es inválido o está malformado.")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND", "El recurso solicitado no fue encontrado.")
	ErrTenantNotFound      = New(http.StatusNotFound, "TENANT_NOT_FOUND", "El tenant no existe o está inactivo.")
	ErrMethodNotAllowed    = New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método HTTP no permitido.")
	ErrConflict            = New(http.StatusConflict, "CONFLICT", "El recurso ya existe.")
	ErrMFAAlreadyEnabled   = New(http.StatusConflict, "MFA_ALREADY_ENABLED", "MFA ya está activo.")
	ErrMFANotEnabled       = New(http.StatusConflict, "MFA_NOT_ENABLED", "MFA no está activo.")
	ErrBodyTooLarge        = New(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "El cuerpo de la solicitud excede el tamaño máximo permitido.")
	ErrRateLimitExceeded   = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Demasiadas solicitudes, intente más tarde.")
	ErrInternalServerError = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Error interno del servidor.")
	ErrServiceUnavailable  = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "El servicio no está disponible.")
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError escribe err como JSON. El request id sale del header que puso
// el middleware.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Detail:    appErr.Detail,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
