package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Transport entry types.
const (
	EntryTypeHuman = "human"
	EntryTypeAI    = "ai"
)

// ErrUnknownEntryType is returned when a history entry carries an unsupported type.
var ErrUnknownEntryType = errors.New("Message type not found.")

// HistoryEntry is the transport form of a turn: {"type": "human"|"ai", "data": {"content": "..."}}.
type HistoryEntry struct {
	Type string    `json:"type"`
	Data EntryData `json:"data"`
}

// EntryData is the payload of a history entry.
type EntryData struct {
	Content string `json:"content"`
}

// NewHistoryEntry builds a transport entry.
func NewHistoryEntry(entryType, content string) HistoryEntry {
	return HistoryEntry{Type: entryType, Data: EntryData{Content: content}}
}

// ParseHistory converts transport entries into turns, preserving order.
// The whole call fails on the first entry with an unknown type.
func ParseHistory(entries []HistoryEntry) ([]Turn, error) {
	turns := make([]Turn, 0, len(entries))
	for i, entry := range entries {
		switch entry.Type {
		case EntryTypeHuman:
			turns = append(turns, HumanTurn(entry.Data.Content))
		case EntryTypeAI:
			turns = append(turns, AssistantTurn(entry.Data.Content))
		default:
			return nil, fmt.Errorf("history entry %d (type %q): %w", i, entry.Type, ErrUnknownEntryType)
		}
	}
	return turns, nil
}

// EncodeHistory converts turns back into transport entries.
// Tool results and assistant turns that only requested tools have no transport form and are skipped.
func EncodeHistory(turns []Turn) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleHuman:
			entries = append(entries, NewHistoryEntry(EntryTypeHuman, t.Content))
		case RoleAssistant:
			if t.Content == "" && len(t.ToolCalls) > 0 {
				continue
			}
			entries = append(entries, NewHistoryEntry(EntryTypeAI, t.Content))
		}
	}
	return entries
}

// MarshalTurns encodes turns for durable storage.
func MarshalTurns(turns []Turn) ([]byte, error) {
	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turns: %w", err)
	}
	return data, nil
}

// UnmarshalTurns decodes turns written by MarshalTurns.
func UnmarshalTurns(data []byte) ([]Turn, error) {
	if len(data) == 0 {
		return []Turn{}, nil
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	for i, t := range turns {
		switch t.Role {
		case RoleHuman, RoleAssistant, RoleTool:
		default:
			return nil, fmt.Errorf("stored turn %d has unknown role %q", i, t.Role)
		}
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}
