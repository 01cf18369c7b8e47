// Package conversation defines the turn model shared by the session store and the
// dispatcher, and the codec between turns and the transport history format.
package conversation

import (
	"encoding/json"
	"maps"
	"slices"
)

// Role tags the author of a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of one tool invocation.
	RoleTool Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Turn is one message of a conversation. Turns are append-only.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolName and InvocationID are set on tool turns only.
	ToolName     string `json:"tool_name,omitempty"`
	InvocationID string `json:"invocation_id,omitempty"`

	// Diagnostic carries structured metadata attached by the tool, e.g. the executed query under "sql".
	Diagnostic map[string]any `json:"diagnostic,omitempty"`
}

// HumanTurn returns a turn authored by the user.
func HumanTurn(content string) Turn {
	return Turn{Role: RoleHuman, Content: content}
}

// AssistantTurn returns a turn authored by the model.
func AssistantTurn(content string, calls ...ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolTurn returns the result turn of the invocation identified by invocationID.
func ToolTurn(toolName, invocationID, content string, diagnostic map[string]any) Turn {
	return Turn{
		Role:         RoleTool,
		Content:      content,
		ToolName:     toolName,
		InvocationID: invocationID,
		Diagnostic:   diagnostic,
	}
}

// IsToolResult reports whether the turn carries a tool result.
func (t Turn) IsToolResult() bool {
	return t.Role == RoleTool
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	if t.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			out.ToolCalls[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: slices.Clone(c.Arguments)}
		}
	}
	if t.Diagnostic != nil {
		out.Diagnostic = maps.Clone(t.Diagnostic)
	}
	return out
}

// CloneTurns deep-copies a turn slice. A nil input yields an empty, non-nil slice.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
