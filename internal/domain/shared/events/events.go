package events

import "time"

// DomainEvent is a fact recorded by an aggregate and published through the outbox.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Recorder collects events raised while handling one command. The zero value
// is ready to use.
type Recorder struct {
	pending []DomainEvent
}

// Record appends non-nil events in order.
func (r *Recorder) Record(evs ...DomainEvent) {
	for _, ev := range evs {
		if ev != nil {
			r.pending = append(r.pending, ev)
		}
	}
}

func (r *Recorder) Len() int { return len(r.pending) }

// Drain returns the recorded events and resets the recorder.
func (r *Recorder) Drain() []DomainEvent {
	out := r.pending
	r.pending = nil
	return out
}
