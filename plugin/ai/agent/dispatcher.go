package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
	"github.com/hrygo/bankdesk/plugin/ai/conversation"
	"github.com/hrygo/bankdesk/plugin/ai/session"
	"github.com/hrygo/bankdesk/plugin/ai/timeout"
)

// State is a dispatcher state.
type State string

const (
	StateAwaitModel State = "AWAIT_MODEL"
	StateRunTools   State = "RUN_TOOLS"
	StateNeedLogin  State = "NEED_LOGIN"
	StateDone       State = "DONE"
)

// LoginRequiredMessage ends a cycle whose tools need a credential the session lacks.
const LoginRequiredMessage = "This action requires you to be signed in. Please log in and then try again."

// TraceEntry records one tool result produced during a cycle. It is never persisted.
type TraceEntry struct {
	ToolName     string         `json:"tool_name"`
	InvocationID string         `json:"invocation_id"`
	Result       string         `json:"result"`
	SQL          string         `json:"sql,omitempty"`
	Diagnostic   map[string]any `json:"diagnostic,omitempty"`
}

// CycleResult is the outcome of one dispatcher cycle.
type CycleResult struct {
	// State is StateDone, or StateNeedLogin when the cycle stopped for a missing credential.
	State State
	// Output is the content of the last turn.
	Output     string
	Trace      []TraceEntry
	Checkpoint *session.Checkpoint
	// Iterations counts the model calls of the cycle.
	Iterations int
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	LLM      ai.LLMService
	Registry *tools.Registry
	Store    session.Store
	Executor *tools.Executor
	// Metrics collects cycle and tool statistics; a fresh collector is used when nil.
	Metrics *AgentMetrics

	ModelTimeout  time.Duration
	CycleTimeout  time.Duration
	MaxIterations int
	Location      *time.Location

	// Now is used for the prompt clock; defaults to time.Now.
	Now func() time.Time
}

// Dispatcher runs the turn state machine of one session at a time.
// It holds no per-session state and is safe for concurrent use; callers
// serialize cycles of the same session.
type Dispatcher struct {
	llm      ai.LLMService
	registry *tools.Registry
	store    session.Store
	executor *tools.Executor
	metrics  *AgentMetrics

	modelTimeout  time.Duration
	cycleTimeout  time.Duration
	maxIterations int
	location      *time.Location
	now           func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.LLM == nil {
		return nil, errors.New("llm cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	d := &Dispatcher{
		llm:           cfg.LLM,
		registry:      cfg.Registry,
		store:         cfg.Store,
		executor:      cfg.Executor,
		metrics:       cfg.Metrics,
		modelTimeout:  cfg.ModelTimeout,
		cycleTimeout:  cfg.CycleTimeout,
		maxIterations: cfg.MaxIterations,
		location:      cfg.Location,
		now:           cfg.Now,
	}
	if d.executor == nil {
		d.executor = tools.NewExecutor()
	}
	if d.metrics == nil {
		d.metrics = NewAgentMetrics()
	}
	if d.modelTimeout <= 0 {
		d.modelTimeout = timeout.ModelTimeout
	}
	if d.cycleTimeout <= 0 {
		d.cycleTimeout = timeout.CycleTimeout
	}
	if d.maxIterations <= 0 {
		d.maxIterations = timeout.MaxIterations
	}
	if d.location == nil {
		d.location = LoadLocation(DefaultTimezone)
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Run executes one cycle for sessionID. An empty userText lets the model
// continue from the stored turns without a new human turn.
//
// Any model fault, timeout or cancellation aborts the cycle and leaves the
// checkpoint untouched. Tool faults become tool turns and the cycle goes on.
func (d *Dispatcher) Run(ctx context.Context, sessionID, userText string, creds tools.Credentials) (result *CycleResult, err error) {
	cycleCtx, cancel := context.WithTimeout(ctx, d.cycleTimeout)
	defer cancel()

	start := time.Now()
	iterations := 0
	defer func() {
		if result != nil {
			d.metrics.RecordCycle(time.Since(start), iterations, result.State, true)
			return
		}
		d.metrics.RecordCycle(time.Since(start), iterations, StateAwaitModel, false)
	}()

	cp, err := d.store.Load(cycleCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	turns := cp.Turns
	preCycle := len(turns)
	if userText != "" {
		turns = append(turns, conversation.HumanTurn(userText))
	}

	state := StateAwaitModel
	final := StateDone
	for state != StateDone {
		switch state {
		case StateAwaitModel:
			if iterations >= d.maxIterations {
				return nil, fmt.Errorf("%w: %d model calls", ErrMaxIterations, iterations)
			}
			iterations++

			reply, err := d.callModel(ctx, cycleCtx, turns)
			if err != nil {
				return nil, err
			}
			turns = append(turns, reply)

			switch {
			case len(reply.ToolCalls) == 0:
				state = StateDone
			case len(d.missingCapabilities(reply.ToolCalls, creds)) > 0:
				state = StateNeedLogin
			default:
				state = StateRunTools
			}

		case StateRunTools:
			calls := turns[len(turns)-1].ToolCalls
			for _, call := range calls {
				toolTurn, err := d.runTool(ctx, cycleCtx, call, creds)
				if err != nil {
					return nil, err
				}
				turns = append(turns, toolTurn)
			}
			state = StateAwaitModel

		case StateNeedLogin:
			slog.Info("tool requires sign-in",
				"session_id", sessionID,
				"missing", d.missingCapabilities(turns[len(turns)-1].ToolCalls, creds))
			turns = append(turns, conversation.AssistantTurn(LoginRequiredMessage))
			final = StateNeedLogin
			state = StateDone
		}
	}

	appended := turns[preCycle:]
	updated, err := d.store.Update(cycleCtx, sessionID, &session.Update{
		ExpectedVersion: cp.Version,
		Append:          appended,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	slog.Debug("cycle completed",
		"session_id", sessionID,
		"state", final,
		"iterations", iterations,
		"appended_turns", len(appended))

	return &CycleResult{
		State:      final,
		Output:     turns[len(turns)-1].Content,
		Trace:      BuildTrace(turns, preCycle),
		Checkpoint: updated,
		Iterations: iterations,
	}, nil
}

// callModel asks the model for the next assistant turn.
func (d *Dispatcher) callModel(parent, cycleCtx context.Context, turns []conversation.Turn) (conversation.Turn, error) {
	ctx, cancel := context.WithTimeout(cycleCtx, d.modelTimeout)
	defer cancel()

	messages := append([]ai.Message{ai.SystemPrompt(BuildSystemPrompt(d.now(), d.location))}, toMessages(turns)...)
	resp, err := d.llm.ChatWithTools(ctx, messages, d.toolDescriptors())
	if err != nil {
		if parent.Err() != nil {
			return conversation.Turn{}, parent.Err()
		}
		d.recordError("model", err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return conversation.Turn{}, fmt.Errorf("%w: model call: %w", ErrInvocationTimeout, err)
		}
		return conversation.Turn{}, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}
	slog.Debug("model replied",
		"tool_calls", len(resp.ToolCalls),
		"content", preview(resp.Content))

	calls := make([]conversation.ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = shortuuid.New()
		}
		calls = append(calls, conversation.ToolCall{ID: id, Name: tc.Name, Arguments: normalizeArguments(tc.Arguments)})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return conversation.AssistantTurn(resp.Content, calls...), nil
}

// runTool executes one call and converts any tool fault into the turn content.
// Only a timeout or cancellation is returned as an error.
func (d *Dispatcher) runTool(parent, cycleCtx context.Context, call conversation.ToolCall, creds tools.Credentials) (conversation.Turn, error) {
	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		slog.Warn("model requested unknown tool", "tool", call.Name)
		return conversation.ToolTurn(call.Name, call.ID, fmt.Sprintf("Error: Tool '%s' not found.", call.Name), nil), nil
	}

	start := time.Now()
	result, err := d.executor.Execute(cycleCtx, tool, call.Arguments, creds)
	d.metrics.RecordToolCall(call.Name, time.Since(start), err == nil)
	if err != nil {
		if parent.Err() != nil {
			return conversation.Turn{}, parent.Err()
		}
		d.recordError(call.Name, err)
		if errors.Is(err, tools.ErrToolTimeout) || errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
			return conversation.Turn{}, fmt.Errorf("%w: %w", ErrInvocationTimeout, err)
		}
		return conversation.ToolTurn(call.Name, call.ID, fmt.Sprintf("Error executing tool %s: %v", call.Name, err), nil), nil
	}
	slog.Debug("tool result",
		"tool", call.Name,
		"invocation_id", call.ID,
		"content", preview(result.Content))
	return conversation.ToolTurn(call.Name, call.ID, result.Content, result.Diagnostic), nil
}

// recordError classifies a model or tool fault for the metrics and the log.
func (d *Dispatcher) recordError(source string, err error) {
	classified := ClassifyError(err)
	d.metrics.RecordErrorClass(classified.Class)
	slog.Warn("invocation failed",
		"source", source,
		"class", classified.Class.String(),
		"retryable", classified.IsTransient(),
		"error", err)
}

// Metrics returns the cycle and tool statistics of this dispatcher.
func (d *Dispatcher) Metrics() *AgentMetrics {
	return d.metrics
}

// missingCapabilities lists the capabilities that resolved tools of calls require
// and creds cannot prove. Unknown tools are left to RUN_TOOLS.
func (d *Dispatcher) missingCapabilities(calls []conversation.ToolCall, creds tools.Credentials) []tools.Capability {
	var missing []tools.Capability
	for _, call := range calls {
		tool, ok := d.registry.Lookup(call.Name)
		if !ok {
			continue
		}
		missing = append(missing, creds.Missing(tool.Descriptor().Requires)...)
	}
	return missing
}

func (d *Dispatcher) toolDescriptors() []ai.ToolDescriptor {
	descs := d.registry.Descriptors()
	out := make([]ai.ToolDescriptor, 0, len(descs))
	for _, desc := range descs {
		out = append(out, ai.ToolDescriptor{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	return out
}

// BuildTrace returns one entry per tool turn at or after index from.
func BuildTrace(turns []conversation.Turn, from int) []TraceEntry {
	trace := []TraceEntry{}
	if from < 0 || from > len(turns) {
		return trace
	}
	for _, t := range turns[from:] {
		if !t.IsToolResult() {
			continue
		}
		entry := TraceEntry{
			ToolName:     t.ToolName,
			InvocationID: t.InvocationID,
			Result:       t.Content,
			Diagnostic:   t.Diagnostic,
		}
		if sql, ok := t.Diagnostic["sql"].(string); ok {
			entry.SQL = sql
		}
		trace = append(trace, entry)
	}
	return trace
}

// toMessages converts turns into model messages. Tool requests that never
// received a result (a cycle that ended in NEED_LOGIN) are dropped, because
// the model API rejects unanswered tool calls.
func toMessages(turns []conversation.Turn) []ai.Message {
	answered := make(map[string]bool)
	for _, t := range turns {
		if t.IsToolResult() {
			answered[t.InvocationID] = true
		}
	}

	messages := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleHuman:
			messages = append(messages, ai.UserMessage(t.Content))
		case conversation.RoleAssistant:
			var calls []ai.ToolCall
			for _, c := range t.ToolCalls {
				if answered[c.ID] {
					calls = append(calls, ai.ToolCall{ID: c.ID, Name: c.Name, Arguments: string(c.Arguments)})
				}
			}
			if t.Content == "" && len(calls) == 0 {
				continue
			}
			messages = append(messages, ai.AssistantMessage(t.Content, calls...))
		case conversation.RoleTool:
			messages = append(messages, ai.ToolMessage(t.InvocationID, t.ToolName, t.Content))
		}
	}
	return messages
}

// normalizeArguments keeps valid JSON arguments and replaces anything else with an empty object.
func normalizeArguments(args string) json.RawMessage {
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// preview shortens s for debug logs.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= timeout.MaxTruncateLength {
		return s
	}
	return string([]rune(s)[:timeout.MaxTruncateLength]) + "..."
}
