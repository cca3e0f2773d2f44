package eventflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeBadEvent             = "EF_BAD_EVENT"
	ErrCodeUnroutableEvent      = "EF_UNROUTABLE_EVENT"
	ErrCodeInvalidTransition    = "EF_INVALID_TRANSITION"
	ErrCodeConditionNotMet      = "EF_CONDITION_NOT_MET"
	ErrCodeTransitionExhausted  = "EF_TRANSITION_EXHAUSTED"
	ErrCodeHandlerTimeout       = "EF_HANDLER_TIMEOUT"
	ErrCodeVersionConflict      = "EF_VERSION_CONFLICT"
	ErrCodePreconditionFailed   = "EF_PRECONDITION_FAILED"
	ErrCodeInstanceNotFound     = "EF_INSTANCE_NOT_FOUND"
	ErrCodeInstanceTerminal     = "EF_INSTANCE_TERMINAL"
	ErrCodeStoreUnavailable     = "EF_STORE_UNAVAILABLE"
	ErrCodeClassifierRejected   = "EF_CLASSIFIER_REJECTED"
	ErrCodeConfigurationInvalid = "EF_CONFIGURATION_INVALID"
)

// Error taxonomy templates. Runtime sites clone these and attach
// message, source and metadata via CloneError.
var (
	// ErrBadEvent marks malformed inbound events.
	ErrBadEvent = apperrors.New("bad event", apperrors.CategoryValidation).
			WithTextCode(ErrCodeBadEvent)

	// ErrUnroutableEvent means no strategy yielded a healthy handler.
	// Surfaced to the caller, never retried.
	ErrUnroutableEvent = apperrors.New("unroutable event", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeUnroutableEvent)

	// ErrInvalidTransition is a configuration or programmer error and is fatal
	// for the requested operation.
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)

	// ErrConditionNotMet is an expected outcome, not a fault; the instance
	// stays put.
	ErrConditionNotMet = apperrors.New("condition not met", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeConditionNotMet)

	// ErrTransitionExhausted means the retry budget ran out; the instance is
	// marked status=error and needs external remediation.
	ErrTransitionExhausted = apperrors.New("transition retries exhausted", apperrors.CategoryExternal).
				WithTextCode(ErrCodeTransitionExhausted)

	// ErrHandlerTimeout counts toward the circuit-breaker window and the
	// transition retry budget.
	ErrHandlerTimeout = apperrors.New("handler timed out", apperrors.CategoryExternal).
				WithTextCode(ErrCodeHandlerTimeout)

	// ErrVersionConflict indicates an optimistic-lock compare-and-set failure.
	ErrVersionConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)

	// ErrPreconditionFailed covers request shape and state preconditions.
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)

	// ErrInstanceNotFound means the workflow instance does not exist.
	ErrInstanceNotFound = apperrors.New("instance not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeInstanceNotFound)

	// ErrInstanceTerminal rejects transitions on completed or errored instances.
	ErrInstanceTerminal = apperrors.New("instance is terminal", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInstanceTerminal)

	// ErrStoreUnavailable wraps persistence-tier failures.
	ErrStoreUnavailable = apperrors.New("store unavailable", apperrors.CategoryExternal).
				WithTextCode(ErrCodeStoreUnavailable)

	// ErrClassifierRejected means the classifier returned an id unknown to the
	// capability registry.
	ErrClassifierRejected = apperrors.New("classifier result rejected", apperrors.CategoryExternal).
				WithTextCode(ErrCodeClassifierRejected)

	// ErrConfigurationInvalid marks definition and table validation failures.
	ErrConfigurationInvalid = apperrors.New("configuration invalid", apperrors.CategoryValidation).
				WithTextCode(ErrCodeConfigurationInvalid)
)

// CloneError derives a runtime error from a taxonomy template.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the taxonomy text code from any error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
