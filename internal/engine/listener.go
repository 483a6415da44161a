// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"slices"
	"sync"
)

type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type registeredListener struct {
	id       int
	listener Listener
}

// Listeners is a registry that fans events out to every listener in
// registration order, on the caller's goroutine.
type Listeners struct {
	mu        sync.RWMutex
	listeners []registeredListener
	nextID    int
}

func (l *Listeners) Register(listener Listener) (unregister func()) {
	if listener == nil {
		return func() {}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.listeners = append(l.listeners, registeredListener{id: id, listener: listener})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.listeners = slices.DeleteFunc(l.listeners, func(r registeredListener) bool { return r.id == id })
	}
}

func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

func (l *Listeners) Dispatch(e Event) {
	l.mu.RLock()
	listeners := slices.Clone(l.listeners)
	l.mu.RUnlock()

	for _, r := range listeners {
		r.listener.OnEvent(e)
	}
}
