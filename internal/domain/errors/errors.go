package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeIntegrity    ErrorType = "integrity"
	ErrorTypeQuota        ErrorType = "quota"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewIntegrityError reports a violated audit-chain invariant. Integrity
// violations are never retryable and never self-repair; they surface in
// verification results and metrics.
func NewIntegrityError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

// QuotaExceededError is returned when a tenant exhausts its hourly LLM
// request quota. Callers match on this type to queue or reject.
type QuotaExceededError struct {
	TenantID string
	Tier     string
	Used     int
	Cap      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s exceeded %s quota: %d/%d requests in window",
		e.TenantID, e.Tier, e.Used, e.Cap)
}

// NewQuotaExceededError creates a typed quota error for the given tenant.
func NewQuotaExceededError(tenantID, tier string, used, cap int) *QuotaExceededError {
	return &QuotaExceededError{TenantID: tenantID, Tier: tier, Used: used, Cap: cap}
}

// IsQuotaExceeded reports whether err is a tenant quota exhaustion.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// AuthErrorKind enumerates token verification failure modes.
type AuthErrorKind string

const (
	AuthErrorExpired   AuthErrorKind = "token_expired"
	AuthErrorInvalid   AuthErrorKind = "token_invalid"
	AuthErrorMalformed AuthErrorKind = "token_malformed"
)

// AuthError carries the failure kind without any token material. The token
// itself must never appear in the error or in logs.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Kind)
}

// NewAuthError creates a typed authentication error.
func NewAuthError(kind AuthErrorKind) *AuthError {
	return &AuthError{Kind: kind}
}

// Predefined common errors
var (
	ErrInvalidInput          = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrTenantNotFound        = NewNotFoundError("tenant")
	ErrRecordNotFound        = NewNotFoundError("audit record")
	ErrInvestigationNotFound = NewNotFoundError("investigation")
	ErrChainNotInitialized   = NewBusinessError("CHAIN_NOT_INITIALIZED", "Tenant audit chain has not been initialized")
	ErrKillSwitchActive      = NewBusinessError("KILL_SWITCH_ACTIVE", "Autonomous action disabled by kill switch")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
