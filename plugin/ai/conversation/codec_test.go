package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHistory(t *testing.T) {
	t.Run("MapsTypesInOrder", func(t *testing.T) {
		turns, err := ParseHistory([]HistoryEntry{
			NewHistoryEntry(EntryTypeAI, "welcome"),
			NewHistoryEntry(EntryTypeHuman, "do you have ATM cards?"),
			NewHistoryEntry(EntryTypeAI, "yes"),
		})
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, RoleAssistant, turns[0].Role)
		assert.Equal(t, RoleHuman, turns[1].Role)
		assert.Equal(t, "do you have ATM cards?", turns[1].Content)
		assert.Equal(t, RoleAssistant, turns[2].Role)
	})

	t.Run("UnknownTypeFailsWholeCall", func(t *testing.T) {
		turns, err := ParseHistory([]HistoryEntry{
			NewHistoryEntry(EntryTypeHuman, "hi"),
			NewHistoryEntry("system", "you are a bot"),
		})
		require.ErrorIs(t, err, ErrUnknownEntryType)
		assert.Nil(t, turns)
		assert.Contains(t, err.Error(), "Message type not found.")
	})

	t.Run("Empty", func(t *testing.T) {
		turns, err := ParseHistory(nil)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("DecodesTransportJSON", func(t *testing.T) {
		var entries []HistoryEntry
		require.NoError(t, json.Unmarshal([]byte(`[{"type":"human","data":{"content":"hello"}}]`), &entries))
		turns, err := ParseHistory(entries)
		require.NoError(t, err)
		assert.Equal(t, []Turn{HumanTurn("hello")}, turns)
	})
}

func TestEncodeHistory(t *testing.T) {
	turns := []Turn{
		Greeting(nil),
		HumanTurn("ATM card"),
		AssistantTurn("", ToolCall{ID: "call_1", Name: "search_products", Arguments: json.RawMessage(`{"query":"ATM card"}`)}),
		ToolTurn("search_products", "call_1", "3 matches", map[string]any{"sql": "SELECT 1"}),
		AssistantTurn("We have three ATM cards."),
	}

	entries := EncodeHistory(turns)
	require.Len(t, entries, 3)
	assert.Equal(t, EntryTypeAI, entries[0].Type)
	assert.Equal(t, EntryTypeHuman, entries[1].Type)
	assert.Equal(t, "We have three ATM cards.", entries[2].Data.Content)

	// Every representable turn survives the round trip.
	parsed, err := ParseHistory(entries)
	require.NoError(t, err)
	assert.Equal(t, EncodeHistory(parsed), entries)
}

func TestMarshalTurns(t *testing.T) {
	turns := []Turn{
		HumanTurn("ATM card"),
		AssistantTurn("", ToolCall{ID: "call_1", Name: "search_products", Arguments: json.RawMessage(`{"query":"ATM card"}`)}),
		ToolTurn("search_products", "call_1", "3 matches", map[string]any{"sql": "SELECT 1"}),
	}

	data, err := MarshalTurns(turns)
	require.NoError(t, err)

	decoded, err := UnmarshalTurns(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, "search_products", decoded[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"ATM card"}`, string(decoded[1].ToolCalls[0].Arguments))
	assert.Equal(t, "call_1", decoded[2].InvocationID)
	assert.Equal(t, "SELECT 1", decoded[2].Diagnostic["sql"])

	t.Run("EmptyInput", func(t *testing.T) {
		decoded, err := UnmarshalTurns(nil)
		require.NoError(t, err)
		assert.NotNil(t, decoded)
		assert.Empty(t, decoded)
	})

	t.Run("RejectsUnknownRole", func(t *testing.T) {
		_, err := UnmarshalTurns([]byte(`[{"role":"system","content":"x"}]`))
		assert.Error(t, err)
	})
}

func TestGreeting(t *testing.T) {
	assert.Equal(t, DefaultGreeting, Greeting(nil).Content)
	assert.Equal(t, DefaultGreeting, Greeting(&UserInfo{Email: "a@b.la"}).Content)

	g := Greeting(&UserInfo{Name: "Noy"})
	assert.Equal(t, RoleAssistant, g.Role)
	assert.Equal(t, "Sabaidee Noy! Welcome to BCEL assistance. How can I help you today?", g.Content)
}

func TestCloneTurns(t *testing.T) {
	orig := []Turn{ToolTurn("t", "1", "r", map[string]any{"sql": "a"})}
	cp := CloneTurns(orig)
	cp[0].Diagnostic["sql"] = "b"
	assert.Equal(t, "a", orig[0].Diagnostic["sql"])
	assert.NotNil(t, CloneTurns(nil))
}
