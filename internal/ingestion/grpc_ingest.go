package ingestion

import (
	"context"
	"errors"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
)

var ErrShuttingDown = errors.New("ingestion shutting down")

// Result is what the core loop hands back for one command.
type Result struct {
	Outcome core.Outcome
	Err     error
}

// Command is one event bound for the core loop. Reply, when set, receives
// exactly one Result; it must be buffered so the core never blocks on it.
type Command struct {
	Event      event.Event
	ReceivedAt time.Time
	Reply      chan Result
}

// Respond delivers r without blocking.
func (c Command) Respond(r Result) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}

// Submitter is the synchronous path into the core used by gRPC and HTTP
// handlers. NATS traffic goes through Router instead.
type Submitter struct {
	commands chan<- Command
}

func NewSubmitter(commands chan<- Command) *Submitter {
	return &Submitter{commands: commands}
}

// Submit enqueues evt and waits for the core's answer.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) (core.Outcome, error) {
	reply := make(chan Result, 1)
	cmd := Command{Event: evt, ReceivedAt: time.Now(), Reply: reply}

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return core.Outcome{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Outcome, r.Err
	case <-ctx.Done():
		// The command may still apply; its effect is visible in the log.
		return core.Outcome{}, ctx.Err()
	}
}
