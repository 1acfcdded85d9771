package memory

import (
	"context"
	"sync"

	appoutbox "rentchat/internal/app/outbox"
)

// Outbox buffers events until Flush hands them to Sink. Without a Sink the
// buffered events are discarded on flush.
type Outbox struct {
	mu      sync.Mutex
	records []appoutbox.EventRecord
	Sink    func(ctx context.Context, records []appoutbox.EventRecord)
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Add(_ context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	batch := o.records
	o.records = nil
	sink := o.Sink
	o.mu.Unlock()
	if sink != nil && len(batch) > 0 {
		sink(ctx, batch)
	}
	return nil
}

// Pending returns a copy of the buffered events.
func (o *Outbox) Pending() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.records...)
}

var _ appoutbox.Outbox = (*Outbox)(nil)
