// Package lifecycle lets long-running components announce when they start
// and stop, so dependents can follow them down, and orchestrates the
// process-level serve/shutdown sequence.
package lifecycle

import (
	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/listeners"
)

// Event is published when a participant starts or stops.
type Event struct {
	Sender  string
	Running bool
}

// Participant is embedded by components that others may depend on.
type Participant struct {
	name string
	hub  *listeners.Hub[Event]
}

// NewParticipant creates a participant named name.
func NewParticipant(name string) *Participant {
	return &Participant{name: name, hub: listeners.NewHub[Event](name + " lifecycle")}
}

// Name returns the participant name.
func (p *Participant) Name() string { return p.name }

// Subscribe registers fn for start/stop events.
func (p *Participant) Subscribe(fn func(Event)) listeners.Handle {
	return p.hub.Subscribe(fn)
}

// Unsubscribe removes a lifecycle listener.
func (p *Participant) Unsubscribe(h listeners.Handle) {
	p.hub.Unsubscribe(h)
}

// AnnounceStarted tells listeners the participant is running. Call it
// without holding the component's own locks.
func (p *Participant) AnnounceStarted() {
	logger.Info("Component started", "component", p.name)
	p.hub.Publish(Event{Sender: p.name, Running: true})
}

// AnnounceStopped tells listeners the participant has stopped.
func (p *Participant) AnnounceStopped() {
	logger.Info("Component stopped", "component", p.name)
	p.hub.Publish(Event{Sender: p.name, Running: false})
}

// StopWhenStopped subscribes stop to dep so the dependent goes down with it.
// Starting dep does not start the dependent.
func StopWhenStopped(dep *Participant, dependent string, stop func()) listeners.Handle {
	return dep.Subscribe(func(ev Event) {
		if ev.Running {
			logger.Debug("Dependent does not auto-start", "component", dependent, "dependency", ev.Sender)
			return
		}
		logger.Info("Stopping because dependency stopped", "component", dependent, "dependency", ev.Sender)
		stop()
	})
}
