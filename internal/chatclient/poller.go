package chatclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rentchat/internal/app/dto"
)

const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultRefreshDelay = 400 * time.Millisecond
)

// API is the server surface the poller needs. *Client implements it.
type API interface {
	Send(ctx context.Context, req dto.SendMessageRequest, idempotencyKey string) (dto.SendMessageResult, error)
	Sync(ctx context.Context, userID string) (dto.InboxSnapshot, error)
}

// Poller keeps one user's inbox current. Polls never overlap: a poll requested
// while another is outstanding is skipped, and a hung poll holds off the rest
// until it returns. On failure the last good snapshot stays in place.
type Poller struct {
	API          API
	UserID       string
	Outbox       *Outbox
	Interval     time.Duration
	RefreshDelay time.Duration
	// OnUpdate receives the merged inbox after every change. It runs on the
	// goroutine that caused the change.
	OnUpdate func([]View)
	Logger   *slog.Logger

	inFlight atomic.Bool
	once     sync.Once
	trigger  chan struct{}
	forced   chan struct{}

	mu   sync.Mutex
	last dto.InboxSnapshot
}

func (p *Poller) init() {
	p.once.Do(func() {
		p.trigger = make(chan struct{}, 1)
		p.forced = make(chan struct{}, 1)
		if p.Outbox == nil {
			p.Outbox = NewOutbox(0)
		}
	})
}

// Run polls immediately, then on every interval tick, Trigger call and forced
// refresh until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	p.init()
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Poll(ctx, false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx, false)
		case <-p.trigger:
			p.Poll(ctx, false)
		case <-p.forced:
			p.Poll(ctx, true)
		}
	}
}

// Trigger asks Run for an out-of-band poll, e.g. when the window regains focus.
func (p *Poller) Trigger() {
	p.init()
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) scheduleRefresh() {
	p.init()
	delay := p.RefreshDelay
	if delay <= 0 {
		delay = DefaultRefreshDelay
	}
	time.AfterFunc(delay, func() {
		select {
		case p.forced <- struct{}{}:
		default:
		}
	})
}

// Poll runs one sync. It reports false when skipped because another poll is
// outstanding. A forced poll also confirms sends acknowledged before it began.
func (p *Poller) Poll(ctx context.Context, forced bool) (bool, error) {
	p.init()
	if !p.inFlight.CompareAndSwap(false, true) {
		return false, nil
	}
	defer p.inFlight.Store(false)

	started := time.Now().UTC()
	snap, err := p.API.Sync(ctx, p.UserID)
	if err != nil {
		p.log().Warn("chat sync failed, keeping last snapshot", "user_id", p.UserID, "error", err)
		return true, err
	}
	var forcedAt time.Time
	if forced {
		forcedAt = started
	}
	p.Outbox.Reconcile(snap, forcedAt)

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
	p.publish()
	return true, nil
}

// Send queues req locally, posts it, and schedules a forced refresh once the
// server acknowledges it. A send the server rejected with a 4xx is dropped from
// the outbox; any other failure may have been stored, so the entry stays and
// is left for content matching.
func (p *Poller) Send(ctx context.Context, req dto.SendMessageRequest) (dto.SendMessageResult, error) {
	p.init()
	if req.SenderID == "" {
		req.SenderID = p.UserID
	}
	pending := p.Outbox.Enqueue(req)
	p.publish()

	res, err := p.API.Send(ctx, req, pending.TempID)
	if err != nil {
		if IsClientError(err) {
			p.Outbox.Fail(pending.TempID)
			p.log().Warn("chat send rejected", "user_id", req.SenderID, "error", err)
		} else {
			p.Outbox.MarkAckLost(pending.TempID)
			p.log().Warn("chat send unacknowledged", "user_id", req.SenderID, "temp_id", pending.TempID, "error", err)
			p.scheduleRefresh()
		}
		p.publish()
		return dto.SendMessageResult{}, err
	}
	p.Outbox.Acknowledge(pending.TempID, res)
	p.publish()
	p.scheduleRefresh()
	return res, nil
}

// Views returns the current merged inbox.
func (p *Poller) Views() []View {
	p.init()
	p.mu.Lock()
	snap := p.last
	p.mu.Unlock()
	return Inbox(snap, p.Outbox.Entries())
}

// Snapshot returns the last good server snapshot.
func (p *Poller) Snapshot() dto.InboxSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) publish() {
	if p.OnUpdate != nil {
		p.OnUpdate(p.Views())
	}
}

func (p *Poller) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
