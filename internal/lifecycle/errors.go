package lifecycle

import (
	"errors"
	"fmt"

	"github.com/cyverse/cloudgw/internal/monitoring"
)

// ErrNotFound is returned when a resource doesn't exist or isn't visible to the principal.
var ErrNotFound = errors.New("resource not found")

// Policy violation reasons.
const (
	ReasonLocked           = "locked"
	ReasonLockedAttribute  = "locked_attribute"
	ReasonBackupInProgress = "backup_in_progress"
	ReasonVolumesAttached  = "volumes_attached"
	ReasonInvalidState     = "invalid_state"
	ReasonNotProvisioned   = "not_provisioned"
	ReasonForbidden        = "forbidden"
)

// PolicyViolation is returned when a business rule refuses a mutation. The resource is left unchanged.
type PolicyViolation struct {
	Reason  string
	Message string
}

func (e *PolicyViolation) Error() string {
	return e.Message
}

// NewPolicyViolation records and returns a policy violation.
func NewPolicyViolation(reason, format string, args ...interface{}) *PolicyViolation {
	monitoring.RecordPolicyViolation(reason)
	return &PolicyViolation{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsPolicyViolation returns the policy violation in an error chain, if there is one.
func IsPolicyViolation(err error) (*PolicyViolation, bool) {
	var pv *PolicyViolation
	if errors.As(err, &pv) {
		return pv, true
	}
	return nil, false
}

// ValidationError is returned when a request is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError returns true if the error chain contains a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HookError is returned when an observer fails after a mutation was persisted. The mutation is not undone.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook failed: %s", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// AsHookError returns the HookError in an error chain and true if the mutation that produced it was persisted.
func AsHookError(err error) (*HookError, bool) {
	var he *HookError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
