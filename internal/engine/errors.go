package engine

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes. Callers (typically agents) key
// retry behavior off these, so they never change meaning.
const (
	CodeModelNotAllowed         = "MODEL_NOT_ALLOWED"
	CodeFieldNotAllowed         = "FIELD_NOT_ALLOWED"
	CodeRelationNotAllowed      = "RELATION_NOT_ALLOWED"
	CodeTenantScopeRequired     = "TENANT_SCOPE_REQUIRED"
	CodeQueryTooBroad           = "QUERY_TOO_BROAD"
	CodeQueryBudgetExceeded     = "QUERY_BUDGET_EXCEEDED"
	CodeWriteDisabled           = "WRITE_DISABLED"
	CodeWriteApprovalRequired   = "WRITE_APPROVAL_REQUIRED"
	CodeMaxAffectedRowsExceeded = "MAX_AFFECTED_ROWS_EXCEEDED"
	CodeValidationError         = "VALIDATION_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeAdapterError            = "ADAPTER_ERROR"
	CodeInternalError           = "INTERNAL_ERROR"
)

// PolicyError is the single error family of the governance core. Every
// policy violation carries a stable code, structured details and short
// corrective hints aimed at a caller that can revise and retry.
type PolicyError struct {
	Code       string         `json:"code"`
	Status     int            `json:"-"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryHints []string       `json:"retry_hints,omitempty"`
	cause      error
}

func (e *PolicyError) Error() string {
	return e.Message
}

func (e *PolicyError) Unwrap() error {
	return e.cause
}

// AsPolicyError unwraps err into a *PolicyError when possible.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	ok := errors.As(err, &pe)
	return pe, ok
}

type ErrorResponse struct {
	Error *PolicyError `json:"error"`
}

func ModelNotAllowedError(model string, allowed []string) *PolicyError {
	return &PolicyError{
		Code:    CodeModelNotAllowed,
		Status:  403,
		Message: fmt.Sprintf("Model %s is not allowed", model),
		Details: map[string]any{"model": model, "allowed_models": allowed},
		RetryHints: []string{
			"Query one of the allowed models instead",
		},
	}
}

func FieldNotAllowedError(model, field string, allowed []string) *PolicyError {
	return &PolicyError{
		Code:    CodeFieldNotAllowed,
		Status:  403,
		Message: fmt.Sprintf("Field %s is not allowed on model %s", field, model),
		Details: map[string]any{"model": model, "field": field, "allowed_fields": allowed},
		RetryHints: []string{
			"Remove the field from select, or pick from allowed_fields",
		},
	}
}

func RelationNotAllowedError(model, relation string, allowed []string) *PolicyError {
	return &PolicyError{
		Code:    CodeRelationNotAllowed,
		Status:  403,
		Message: fmt.Sprintf("Relation %s is not allowed on model %s", relation, model),
		Details: map[string]any{"model": model, "relation": relation, "allowed_relations": allowed},
		RetryHints: []string{
			"Drop the include, or pick from allowed_relations",
		},
	}
}

func TenantScopeRequiredError(model string) *PolicyError {
	return &PolicyError{
		Code:    CodeTenantScopeRequired,
		Status:  403,
		Message: fmt.Sprintf("Model %s requires tenant scope but the caller has no tenant", model),
		Details: map[string]any{"model": model},
		RetryHints: []string{
			"Authenticate with a tenant-scoped principal",
		},
	}
}

func QueryTooBroadError(model string, filterCount, minFilters int) *PolicyError {
	return &PolicyError{
		Code:    CodeQueryTooBroad,
		Status:  422,
		Message: fmt.Sprintf("Query on %s is too broad: %d filters, at least %d required", model, filterCount, minFilters),
		Details: map[string]any{"model": model, "filters": filterCount, "min_filters": minFilters},
		RetryHints: []string{
			"Add where clauses to narrow the query",
		},
	}
}

func BudgetExceededError(dimension string, limit, requested int) *PolicyError {
	return &PolicyError{
		Code:    CodeQueryBudgetExceeded,
		Status:  422,
		Message: fmt.Sprintf("Query budget exceeded on %s: limit %d, requested %d", dimension, limit, requested),
		Details: map[string]any{"dimension": dimension, "limit": limit, "requested": requested},
		RetryHints: []string{
			fmt.Sprintf("Reduce %s to at most %d", dimension, limit),
		},
	}
}

func WriteDisabledError(model, operation string) *PolicyError {
	return &PolicyError{
		Code:    CodeWriteDisabled,
		Status:  403,
		Message: fmt.Sprintf("Write operation %s is not permitted on model %s", operation, model),
		Details: map[string]any{"model": model, "operation": operation},
		RetryHints: []string{
			"This model does not accept this write; do not retry",
		},
	}
}

func WriteApprovalRequiredError(model, operation string) *PolicyError {
	return &PolicyError{
		Code:    CodeWriteApprovalRequired,
		Status:  403,
		Message: fmt.Sprintf("Write operation %s on model %s requires approval", operation, model),
		Details: map[string]any{"model": model, "operation": operation},
		RetryHints: []string{
			"Request operator approval before retrying",
		},
	}
}

func MaxAffectedRowsError(maxRows, affected int) *PolicyError {
	return &PolicyError{
		Code:    CodeMaxAffectedRowsExceeded,
		Status:  422,
		Message: fmt.Sprintf("Bulk operation affects %d rows, limit is %d", affected, maxRows),
		Details: map[string]any{"max_rows": maxRows, "affected": affected},
		RetryHints: []string{
			fmt.Sprintf("Split the operation into batches of at most %d ids", maxRows),
		},
	}
}

func NewValidationError(message string, details map[string]any, hints ...string) *PolicyError {
	return &PolicyError{
		Code:       CodeValidationError,
		Status:     422,
		Message:    message,
		Details:    details,
		RetryHints: hints,
	}
}

// NotFoundError deliberately does not say whether the row is missing or
// merely out of scope.
func NotFoundError(model string) *PolicyError {
	return &PolicyError{
		Code:    CodeNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found", model),
		Details: map[string]any{"model": model},
	}
}

// AdapterError wraps an opaque downstream failure.
func AdapterError(err error) *PolicyError {
	return &PolicyError{
		Code:    CodeAdapterError,
		Status:  502,
		Message: "Storage adapter failure",
		cause:   err,
	}
}

// InternalError wraps anything unclassified.
func InternalError(err error) *PolicyError {
	return &PolicyError{
		Code:    CodeInternalError,
		Status:  500,
		Message: "Internal error",
		cause:   err,
	}
}
