// Package searchindextest stellt einen aufzeichnenden Suchindex-Sink für Tests bereit.
package searchindextest

import (
	"context"
	"sync"
	"time"

	"linkrec/searchindex"
)

// Event ist ein aufgezeichneter Aufruf.
type Event struct {
	Action     string
	Page       searchindex.Page
	Tags       []string
	JoinWindow time.Duration
}

// Sink zeichnet alle Aufrufe auf. Ist Err gesetzt, schlagen alle Aufrufe fehl und nichts wird aufgezeichnet.
type Sink struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (s *Sink) SetTag(_ context.Context, page searchindex.Page, tag string) error {
	return s.record(Event{Action: "set", Page: page, Tags: []string{tag}})
}

func (s *Sink) ResetTags(_ context.Context, page searchindex.Page, tags []string, joinWindow time.Duration) error {
	return s.record(Event{Action: "reset", Page: page, Tags: tags, JoinWindow: joinWindow})
}

// Events gibt eine Kopie der aufgezeichneten Aufrufe zurück.
func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *Sink) record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}
