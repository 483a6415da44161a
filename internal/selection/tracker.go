// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package selection tracks a multi-selection of torrents by id so that it
// survives re-filtering and re-sorting of the visible list.
package selection

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

type Mode int

const (
	Inactive Mode = iota
	Active
)

func (m Mode) String() string {
	if m == Active {
		return "active"
	}
	return "inactive"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// State is a point-in-time copy of the tracker.
type State struct {
	Mode     Mode     `json:"mode"`
	Selected []string `json:"selected"`
	Count    int      `json:"count"`
}

type observer struct {
	id       int
	onMode   func(Mode)
	onChange func(State)
}

type Tracker struct {
	mu        sync.Mutex
	order     []string
	selected  map[string]struct{}
	observers []observer
	nextID    int
}

func New() *Tracker {
	return &Tracker{selected: make(map[string]struct{})}
}

// Selection returns the selected ids in the order they were selected.
func (t *Tracker) Selection() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.order)
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *Tracker) IsSelected(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.selected[id]
	return ok
}

func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return modeFor(len(t.order))
}

// Toggle flips id and reports whether it is selected afterwards.
func (t *Tracker) Toggle(id string) bool {
	var selected bool
	t.mutate(func() bool {
		if _, ok := t.selected[id]; ok {
			t.removeLocked([]string{id})
			return true
		}
		selected = t.addLocked([]string{id}) > 0
		return selected
	})
	return selected
}

// Select adds ids and returns how many were newly selected.
func (t *Tracker) Select(ids ...string) int {
	var added int
	t.mutate(func() bool {
		added = t.addLocked(ids)
		return added > 0
	})
	return added
}

// Deselect drops ids and returns how many were selected.
func (t *Tracker) Deselect(ids ...string) int {
	var removed int
	t.mutate(func() bool {
		removed = t.removeLocked(ids)
		return removed > 0
	})
	return removed
}

// SelectRange selects every key between from and to in order, both ends
// included, in either direction. Returns 0 when either key is not in order.
func (t *Tracker) SelectRange(order []string, from, to string) int {
	start, end := lo.IndexOf(order, from), lo.IndexOf(order, to)
	if start < 0 || end < 0 {
		return 0
	}
	if start > end {
		start, end = end, start
	}
	return t.Select(order[start : end+1]...)
}

// Clear deselects everything.
func (t *Tracker) Clear() {
	t.mutate(func() bool {
		if len(t.order) == 0 {
			return false
		}
		t.order = nil
		t.selected = make(map[string]struct{})
		return true
	})
}

// Remove prunes deleted torrents. Ids that were not selected are ignored.
func (t *Tracker) Remove(ids ...string) {
	t.Deselect(ids...)
}

// Retain drops every selected id missing from existing.
func (t *Tracker) Retain(existing []string) int {
	var removed int
	t.mutate(func() bool {
		keep := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			keep[id] = struct{}{}
		}
		stale := lo.Filter(t.order, func(id string, _ int) bool {
			_, ok := keep[id]
			return !ok
		})
		removed = t.removeLocked(stale)
		return removed > 0
	})
	return removed
}

// OnModeChange registers fn for Inactive/Active transitions.
func (t *Tracker) OnModeChange(fn func(Mode)) (unregister func()) {
	return t.register(observer{onMode: fn})
}

// OnChange registers fn for every change of the selected set.
func (t *Tracker) OnChange(fn func(State)) (unregister func()) {
	return t.register(observer{onChange: fn})
}

func (t *Tracker) register(o observer) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	o.id = t.nextID
	t.observers = append(t.observers, o)

	id := o.id
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.observers = slices.DeleteFunc(t.observers, func(o observer) bool { return o.id == id })
	}
}

// mutate runs fn under the lock and notifies observers afterwards if fn reports a change.
func (t *Tracker) mutate(fn func() bool) {
	t.mu.Lock()
	before := modeFor(len(t.order))
	if !fn() {
		t.mu.Unlock()
		return
	}
	state := t.stateLocked()
	observers := slices.Clone(t.observers)
	t.mu.Unlock()

	for _, o := range observers {
		if o.onChange != nil {
			o.onChange(state)
		}
		if o.onMode != nil && state.Mode != before {
			o.onMode(state.Mode)
		}
	}
}

func (t *Tracker) addLocked(ids []string) int {
	added := 0
	for _, id := range lo.Uniq(ids) {
		if id == "" {
			continue
		}
		if _, ok := t.selected[id]; ok {
			continue
		}
		t.selected[id] = struct{}{}
		t.order = append(t.order, id)
		added++
	}
	return added
}

func (t *Tracker) removeLocked(ids []string) int {
	removed := 0
	for _, id := range ids {
		if _, ok := t.selected[id]; !ok {
			continue
		}
		delete(t.selected, id)
		removed++
	}
	if removed > 0 {
		t.order = slices.DeleteFunc(t.order, func(id string) bool {
			_, ok := t.selected[id]
			return !ok
		})
	}
	return removed
}

func (t *Tracker) stateLocked() State {
	return State{
		Mode:     modeFor(len(t.order)),
		Selected: append([]string{}, t.order...),
		Count:    len(t.order),
	}
}

func modeFor(n int) Mode {
	if n > 0 {
		return Active
	}
	return Inactive
}
