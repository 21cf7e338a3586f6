// Package sink delivers decoded readings to their consumers.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

// Reading is one decoded notification as seen by consumers.
type Reading struct {
	At          time.Time
	SystemTitle string
	Counter     uint32
	Values      gosmartmeter.MeasurementSet
}

// FromResult converts a pipeline result. At falls back to received when the
// notification carried no date-time.
func FromResult(r gosmartmeter.Result, received time.Time) Reading {
	at := r.NotificationTime
	if at.IsZero() {
		at = received.UTC()
	}
	return Reading{
		At:          at,
		SystemTitle: r.SystemTitle,
		Counter:     r.InvocationCounter,
		Values:      r.Measurements,
	}
}

// Sink consumes readings.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// Multi fans a reading out to every sink. A failing sink does not stop
// delivery to the rest.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, r Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			logrus.WithError(err).WithField("sink", name(s)).Warn("publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type named interface {
	Name() string
}

func name(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return "unnamed"
}

// Latest keeps the merged view of every reading published so far.
type Latest struct {
	mu      sync.RWMutex
	current Reading
	seen    bool
}

func NewLatest() *Latest {
	return &Latest{}
}

func (l *Latest) Name() string { return "latest" }

// Publish merges r into the held reading. Kinds absent from r keep their
// previous values.
func (l *Latest) Publish(_ context.Context, r Reading) error {
	l.Update(r)
	return nil
}

// Update merges r and returns the kinds whose value changed.
func (l *Latest) Update(r Reading) []gosmartmeter.MeasurementKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.current.Values
	var changed []gosmartmeter.MeasurementKind
	for _, m := range r.Values.All() {
		old, ok := prev.Get(m.Kind)
		if !ok || old.Value != m.Value || old.Text != m.Text {
			changed = append(changed, m.Kind)
		}
	}
	l.current = Reading{
		At:          r.At,
		SystemTitle: r.SystemTitle,
		Counter:     r.Counter,
		Values:      prev.Merge(r.Values.All()),
	}
	l.seen = true
	return changed
}

// Get returns the merged reading, false before the first Publish.
func (l *Latest) Get() (Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current, l.seen
}
