// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package selection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectThenDeleteDeactivates(t *testing.T) {
	tr := New()

	var modes []Mode
	tr.OnModeChange(func(m Mode) { modes = append(modes, m) })

	assert.Equal(t, Inactive, tr.Mode())
	tr.Select("a")
	assert.Equal(t, Active, tr.Mode())

	tr.Remove("a")
	assert.Empty(t, tr.Selection())
	assert.Equal(t, Inactive, tr.Mode())
	assert.Equal(t, []Mode{Active, Inactive}, modes)
}

func TestRemoveProperty(t *testing.T) {
	tests := []struct {
		name     string
		selected []string
		deleted  string
		expected []string
	}{
		{name: "selected key dropped", selected: []string{"a", "b", "c"}, deleted: "b", expected: []string{"a", "c"}},
		{name: "unselected key ignored", selected: []string{"a", "c"}, deleted: "b", expected: []string{"a", "c"}},
		{name: "empty selection", selected: nil, deleted: "x", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tr.Select(tt.selected...)

			changes := 0
			tr.OnChange(func(State) { changes++ })

			tr.Remove(tt.deleted)
			assert.Equal(t, tt.expected, tr.Selection())
			if len(tt.selected) == len(tt.expected) {
				assert.Zero(t, changes, "unchanged selection must not notify")
			}
		})
	}
}

func TestToggle(t *testing.T) {
	tr := New()

	assert.True(t, tr.Toggle("a"))
	assert.True(t, tr.IsSelected("a"))
	assert.True(t, tr.Toggle("b"))
	assert.Equal(t, 2, tr.Count())

	assert.False(t, tr.Toggle("a"))
	assert.Equal(t, []string{"b"}, tr.Selection())
	assert.Equal(t, Active, tr.Mode())

	assert.False(t, tr.Toggle("b"))
	assert.Equal(t, Inactive, tr.Mode())
}

func TestToggleEmptyIDIsNoop(t *testing.T) {
	tr := New()

	changes := 0
	tr.OnChange(func(State) { changes++ })

	assert.False(t, tr.Toggle(""))
	assert.Zero(t, changes)
	assert.Equal(t, Inactive, tr.Mode())
	assert.Zero(t, tr.Count())
}

func TestSelectRange(t *testing.T) {
	order := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name     string
		from, to string
		expected []string
	}{
		{name: "forward", from: "b", to: "d", expected: []string{"b", "c", "d"}},
		{name: "backward", from: "d", to: "b", expected: []string{"b", "c", "d"}},
		{name: "single", from: "c", to: "c", expected: []string{"c"}},
		{name: "unknown endpoint", from: "a", to: "z", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			n := tr.SelectRange(order, tt.from, tt.to)
			assert.Equal(t, len(tt.expected), n)
			assert.Equal(t, tt.expected, tr.Selection())
		})
	}
}

func TestSelectRangeExtendsExistingSelection(t *testing.T) {
	tr := New()
	tr.Select("e", "b")

	added := tr.SelectRange([]string{"a", "b", "c", "d", "e"}, "a", "c")
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"e", "b", "a", "c"}, tr.Selection())
}

func TestSelectionSurvivesReordering(t *testing.T) {
	tr := New()
	tr.Select("c", "a")

	// the visible order changing does not affect keys
	tr.Retain([]string{"a", "b", "c"})
	assert.Equal(t, []string{"c", "a"}, tr.Selection())

	removed := tr.Retain([]string{"a", "b"})
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"a"}, tr.Selection())
}

func TestClearAndDuplicates(t *testing.T) {
	tr := New()
	assert.Equal(t, 2, tr.Select("a", "a", "", "b"))
	assert.Zero(t, tr.Select("a"))

	var modes []Mode
	unregister := tr.OnModeChange(func(m Mode) { modes = append(modes, m) })

	tr.Clear()
	tr.Clear()
	assert.Zero(t, tr.Count())
	assert.Equal(t, []Mode{Inactive}, modes)

	unregister()
	tr.Select("z")
	assert.Equal(t, []Mode{Inactive}, modes)
}

func TestObserversReceiveState(t *testing.T) {
	tr := New()

	var states []State
	tr.OnChange(func(s State) { states = append(states, s) })

	tr.Select("a", "b")
	tr.Deselect("a")
	tr.Deselect("missing")

	require.Len(t, states, 2)
	assert.Equal(t, State{Mode: Active, Selected: []string{"a", "b"}, Count: 2}, states[0])
	assert.Equal(t, State{Mode: Active, Selected: []string{"b"}, Count: 1}, states[1])
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(New().State())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"inactive","selected":[],"count":0}`, string(data))
}
