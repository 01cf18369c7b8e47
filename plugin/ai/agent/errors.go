// Package agent drives tool-calling conversations for the banking assistant.
package agent

import "errors"

var (
	// ErrModelInvocation indicates the model could not produce a response.
	// The cycle is aborted and the checkpoint is left untouched.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrInvocationTimeout indicates a model or tool call exceeded its bounded wait.
	// It is treated like ErrModelInvocation.
	ErrInvocationTimeout = errors.New("invocation timed out")

	// ErrMaxIterations indicates the model kept requesting tools past the iteration cap.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrSessionNotFound indicates the session is not live in the manager.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotInitialized indicates the manager dependencies could not be built.
	ErrNotInitialized = errors.New("agent not initialized")
)

// IsModelFault reports whether err aborted a cycle in the model path.
func IsModelFault(err error) bool {
	return errors.Is(err, ErrModelInvocation) ||
		errors.Is(err, ErrInvocationTimeout) ||
		errors.Is(err, ErrMaxIterations)
}
