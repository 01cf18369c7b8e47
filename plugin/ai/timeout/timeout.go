// Package timeout defines centralized timeout constants for AI operations.
package timeout

import "time"

// AI operation timeout constants.
const (
	// ModelTimeout bounds a single model invocation.
	ModelTimeout = 60 * time.Second

	// CycleTimeout bounds one full dispatcher cycle, tool rounds included.
	CycleTimeout = 2 * time.Minute

	// ToolExecutionTimeout is the timeout for individual tool execution.
	ToolExecutionTimeout = 30 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation.
	EmbeddingTimeout = 30 * time.Second

	// MaxIterations caps the model invocations of one cycle.
	MaxIterations = 5

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	MaxTruncateLength = 200
)
