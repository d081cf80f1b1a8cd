package service

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the service layer.
var (
	ErrNotFound               = errors.New("game world not found")
	ErrValidation             = errors.New("invalid game world request")
	ErrTemplateMissing        = errors.New("world template not found")
	ErrProvisioningInProgress = errors.New("provisioning already in progress for this world id")
	ErrFieldNotAllowed        = errors.New("field is not a toggleable lifecycle flag")
	ErrVersionConflict        = errors.New("game world was modified concurrently")
	ErrLiveWorldExists        = errors.New("a live game world already exists for this world id")
	ErrIdentityMismatch       = errors.New("descriptor unique id does not match the registry id")
)

// ValidationError lists user-correctable problems. No side effects were performed.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationError(messages ...string) error {
	return &ValidationError{Messages: messages}
}

// ProvisioningError reports the step a provisioning run failed in. Result carries whatever
// was known at the time (archived path, assigned unique id, database name).
type ProvisioningError struct {
	Step       string
	Cause      error
	Result     ProvisioningResult
	RolledBack bool
	// RollbackErr is set when the restore policy ran and did not complete cleanly.
	RollbackErr error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Cause)
	if e.RolledBack {
		msg += " (rolled back)"
	}
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback incomplete: %v)", e.RollbackErr)
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// PartialUpdateError means the registry write succeeded and the per-world config write did not;
// the two stores now disagree until the edit is retried.
type PartialUpdateError struct {
	World World
	Cause error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("gameServers updated, but per-world config sync failed: %v", e.Cause)
}

func (e *PartialUpdateError) Unwrap() error { return e.Cause }
