package livestream

import (
	"context"
	"errors"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// cursorPoll peeks batches beyond a monotonically advancing sequence-number
// cursor. The cursor belongs exclusively to one strategy instance; it starts
// at zero on stream start and dies with the loop.
type cursorPoll struct {
	recv   broker.PeekReceiver
	target Target
	snk    sink
	logger logpkg.Logger

	batch        int
	peekTimeout  time.Duration
	pollInterval time.Duration
	errorBackoff time.Duration

	cursor int64
}

func (c *cursorPoll) run(ctx context.Context) {
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := c.recv.Close(cctx); err != nil {
			c.logger.Warn("close peek receiver", logpkg.Err(err))
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, c.peekTimeout)
		msgs, err := c.recv.Peek(pctx, c.batch, c.cursor+1)
		cancel()
		switch {
		case err == nil:
			now := time.Now().UTC()
			for _, m := range msgs {
				// The cursor check, not batch order, is the dedup mechanism:
				// a broker may replay messages at or below the watermark.
				if m.SequenceNumber <= c.cursor {
					continue
				}
				c.cursor = m.SequenceNumber
				c.snk.message(newLiveMessage(m, c.target, now))
			}
		case ctx.Err() != nil:
			// Overall cancellation observed through the peek call.
			return
		case errors.Is(err, context.DeadlineExceeded):
			// Per-call timeout with no cancellation: a normal idle tick.
		default:
			c.logger.Warn("peek failed, backing off",
				logpkg.Str("entity", c.target.String()),
				logpkg.Dur("backoff", c.errorBackoff),
				logpkg.Err(err))
			c.snk.error(err)
			if !sleepCtx(ctx, c.errorBackoff) {
				return
			}
		}
		if !sleepCtx(ctx, c.pollInterval) {
			return
		}
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
