// Package livestream implements BusLane's live entity stream engine: it
// surfaces newly-arrived broker messages to observers without consuming them.
//
// # Overview
//
// An Engine runs at most one stream at a time against a single broker
// client/receiver pair. StartStream stops any prior stream, dials the broker,
// and launches one of two delivery strategies as a background goroutine:
//
//   - ModeCursorPoll peeks batches beyond a monotonically advancing
//     sequence-number cursor. Peeking never removes messages; the cursor
//     check deduplicates broker-side replay within and across batches.
//   - ModePushSubscribe registers a push receiver and abandons every
//     delivery immediately after emitting it, so messages stay available to
//     real consumers.
//
// Both strategies feed a Hub, a multi-subscriber fan-out of message, status,
// and error events. Transient failures surface as error events and the
// stream self-heals after a backoff; only the initial connect/receiver
// creation step can fail the StartStream call itself.
//
// Example
//
//	eng := livestream.New(dial, livestream.Options{Logger: logger})
//	defer eng.Close()
//	sub := eng.Subscribe()
//	defer sub.Close()
//	if err := eng.StartStream(ctx, livestream.Target{EntityPath: "orders"}, livestream.ModeCursorPoll); err != nil {
//	    return err
//	}
//	for ev := range sub.Events() {
//	    if ev.Kind == livestream.EventMessage {
//	        fmt.Println(ev.Message.SequenceNumber, ev.Message.Body)
//	    }
//	}
package livestream
