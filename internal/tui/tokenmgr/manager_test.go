package tokenmgr

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/auth"
)

func press(t *testing.T, m Model, key tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(key)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

var (
	space = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	down  = tea.KeyMsg{Type: tea.KeyDown}
	enter = tea.KeyMsg{Type: tea.KeyEnter}
)

func TestSelectScopes(t *testing.T) {
	m := New([]auth.Scope{
		{Name: "jobs:ro", Description: "read"},
		{Name: "jobs:rw", Description: "write"},
		{Name: "events:ro", Description: "stream"},
	})
	m = press(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	m = press(t, m, space)
	m = press(t, m, down)
	m = press(t, m, down)
	m = press(t, m, space)

	assert.Nil(t, m.Scopes())
	m = press(t, m, enter)
	assert.Equal(t, []string{"jobs:ro", "events:ro"}, m.Scopes())
	assert.Contains(t, m.View(), "jobs:ro, events:ro")
}

func TestAdminSubsumesOthers(t *testing.T) {
	m := New(auth.KnownScopes)
	m = press(t, m, tea.WindowSizeMsg{Width: 80, Height: 40})
	m = press(t, m, space)
	m = press(t, m, down)
	m = press(t, m, space)
	m = press(t, m, enter)
	assert.Equal(t, []string{"*"}, m.Scopes())
}

func TestCancel(t *testing.T) {
	m := New(auth.KnownScopes)
	m = press(t, m, tea.WindowSizeMsg{Width: 80, Height: 40})
	m = press(t, m, space)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, m.Scopes())
	assert.Contains(t, m.View(), "Cancelled.")
}
