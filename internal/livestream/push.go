package livestream

import (
	"context"
	"time"

	"github.com/soliktomasz/BusLane-sub000/internal/broker"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

// pushSubscribe registers a push receiver and abandons every delivery right
// after emitting it. Observation-only: the strategy never completes,
// dead-letters, or otherwise durably mutates a message.
type pushSubscribe struct {
	recv   broker.PushReceiver
	target Target
	snk    sink
	logger logpkg.Logger
}

func (p *pushSubscribe) run(ctx context.Context) {
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := p.recv.Stop(sctx); err != nil {
			p.logger.Warn("stop push receiver", logpkg.Err(err))
		}
	}()
	if err := p.recv.Start(ctx, p.handle, p.handleError); err != nil {
		p.logger.Error("register push handler", logpkg.Str("entity", p.target.String()), logpkg.Err(err))
		p.snk.error(err)
		return
	}
	<-ctx.Done()
}

func (p *pushSubscribe) handle(ctx context.Context, d broker.Delivery) {
	p.snk.message(newLiveMessage(d.Message, p.target, time.Now().UTC()))
	if err := d.Abandon(ctx); err != nil {
		p.logger.Warn("abandon delivery",
			logpkg.Str("entity", p.target.String()),
			logpkg.Int64("seq", d.Message.SequenceNumber),
			logpkg.Err(err))
		p.snk.error(err)
	}
}

// handleError surfaces receive failures as error events; the underlying
// receiver keeps running under the broker client's own retry policy.
func (p *pushSubscribe) handleError(err error) {
	p.logger.Warn("push receive failed", logpkg.Str("entity", p.target.String()), logpkg.Err(err))
	p.snk.error(err)
}
