package aiapi

import (
	"context"
	"time"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/chat"
)

// KeepAliveInterval defines how often a keep-alive is sent on a stream that
// has produced no event, such as while a tool round trip runs.
const KeepAliveInterval = 15 * time.Second

// streamItem is a turn event or, when KeepAlive is set, an idle marker.
type streamItem struct {
	Event     chat.StreamEvent
	KeepAlive bool
}

// withKeepAlive forwards events and injects a keep-alive item whenever
// interval passes without one. The output closes when events closes or ctx
// is done.
func withKeepAlive(ctx context.Context, events <-chan chat.StreamEvent, interval time.Duration) <-chan streamItem {
	log := ctrllog.FromContext(ctx).WithName("keepalive")
	out := make(chan streamItem)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.V(1).Info("Context cancelled, stopping keep-alive")
				return

			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- streamItem{Event: ev}:
					ticker.Reset(interval)
				case <-ctx.Done():
					return
				}

			case <-ticker.C:
				log.V(1).Info("Injecting keep-alive")
				select {
				case out <- streamItem{KeepAlive: true}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
