package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/hedge-snapshots/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents invalid requests (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents failures of an external collaborator
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache / lock errors
	CategoryCache ErrorCategory = "cache"
	// CategoryRates represents missing or malformed rate tables
	CategoryRates ErrorCategory = "rates"
	// CategoryChain represents snapshot chain consistency errors
	CategoryChain ErrorCategory = "chain"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
)

// Error codes
const (
	CodeRateNotFound     = "RATE_NOT_FOUND"
	CodeTierMismatch     = "TIER_MISMATCH"
	CodeBrokerNotFound   = "BROKER_NOT_FOUND"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeSnapshotExists   = "SNAPSHOT_EXISTS"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeChainOutOfOrder  = "CHAIN_OUT_OF_ORDER"
	CodeChainBroken      = "CHAIN_BROKEN"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeNotFound         = "NOT_FOUND"
	CodeLockHeld         = "LOCK_HELD"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeCacheError       = "CACHE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Rate table errors

// NewRateNotFoundError reports a currency missing from the table used for a direction
func NewRateNotFoundError(currency types.Currency, direction types.Direction) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRates,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeRateNotFound,
		Message:    fmt.Sprintf("could not find currency %s in the %s rates", currency, direction),
		Details: map[string]interface{}{
			"currency":  string(currency),
			"direction": direction.String(),
		},
	}
}

// NewTierMismatchError reports a tier that does not start where the previous one ended
func NewTierMismatchError(currency types.Currency, index int, want, got float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRates,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeTierMismatch,
		Message:    fmt.Sprintf("tier mismatch for %s at tier %d: expected tier_from %v, got %v", currency, index, want, got),
		Details: map[string]interface{}{
			"currency": string(currency),
			"tier":     index,
			"expected": want,
			"got":      got,
		},
	}
}

// NewBrokerNotFoundError reports an unknown broker
func NewBrokerNotFoundError(broker string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeBrokerNotFound,
		Message:    fmt.Sprintf("could not find broker %s", broker),
		Details: map[string]interface{}{
			"broker": broker,
		},
	}
}

// Chain errors

// NewSnapshotExistsError reports an insert for an (entity, time) that is already stored
func NewSnapshotExistsError(entity types.EntityKey, at string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeSnapshotExists,
		Message:    fmt.Sprintf("snapshot already exists for %s at %s", entity, at),
		Details: map[string]interface{}{
			"entity": entity.String(),
			"time":   at,
		},
	}
}

// NewSnapshotNotFoundError reports a missing snapshot
func NewSnapshotNotFoundError(entity types.EntityKey, at string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeSnapshotNotFound,
		Message:    fmt.Sprintf("no snapshot for %s at %s", entity, at),
		Details: map[string]interface{}{
			"entity": entity.String(),
			"time":   at,
		},
	}
}

// NewOutOfOrderError reports an append that does not come after the chain tail
func NewOutOfOrderError(entity types.EntityKey, at, tail string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusConflict,
		Code:       CodeChainOutOfOrder,
		Message:    fmt.Sprintf("snapshot for %s at %s is not after the chain tail %s", entity, at, tail),
		Details: map[string]interface{}{
			"entity": entity.String(),
			"time":   at,
			"tail":   tail,
		},
	}
}

// NewChainBrokenError reports a violated link invariant
func NewChainBrokenError(entity types.EntityKey, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusConflict,
		Code:       CodeChainBroken,
		Message:    fmt.Sprintf("snapshot chain for %s is broken: %s", entity, reason),
		Details: map[string]interface{}{
			"entity": entity.String(),
			"reason": reason,
		},
	}
}

// Request errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewLockHeldError reports a run lock owned by another worker
func NewLockHeldError(key string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeLockHeld,
		Message:    fmt.Sprintf("lock %s is held by another run", key),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// System errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCacheError,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewProviderError wraps a failure of an external collaborator
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// As finds the first CategorizedError in err's chain
func As(err error) (*CategorizedError, bool) {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr, true
	}
	return nil, false
}

// HasCode reports whether any CategorizedError in err's chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		var catErr *CategorizedError
		if !stderrors.As(err, &catErr) {
			return false
		}
		if catErr.Code == code {
			return true
		}
		err = catErr.Cause
	}
	return false
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := As(err); ok {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}
