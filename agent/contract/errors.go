package contract

import "errors"

var (
	ErrNotFound           = errors.New("no open case for identifier")
	ErrVerificationFailed = errors.New("identity verification failed")
	ErrPreconditionNotMet = errors.New("tool invoked before prerequisite stage")
	ErrPersistence        = errors.New("persistence write failed")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrValidation         = errors.New("validation failed")
	ErrModelInvoke        = errors.New("model invocation failed")
	ErrSchemaViolation    = errors.New("model output violates schema")
)
