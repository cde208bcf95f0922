package scheduler

import (
	"context"

	"github.com/go-pkgz/lgr"

	"github.com/feedcourier/feedcourier/pkg/domain"
	"github.com/feedcourier/feedcourier/pkg/notify"
)

// Sink forwards newly-identified items to their delivery destination and
// records them as forwarded. Delivery is best-effort: the forwarded record
// is written even when delivery fails, so an unreachable destination cannot
// wedge a source into re-forwarding the same item forever. A crash between
// delivery and record re-delivers that one item on the next run - the
// accepted at-least-once edge.
type Sink struct {
	forwarded ForwardedStore
	notifier  Notifier
}

// NewSink creates a dispatch sink
func NewSink(forwarded ForwardedStore, notifier Notifier) *Sink {
	return &Sink{forwarded: forwarded, notifier: notifier}
}

// Forward renders and delivers one item, then records it. Reports whether
// delivery itself succeeded.
func (s *Sink) Forward(ctx context.Context, src *domain.Source, item domain.Item) (delivered bool) {
	text := notify.FormatItem(item, src.Name)

	msgRef, err := s.notifier.Send(ctx, src.WebhookURL, text)
	if err != nil {
		lgr.Printf("[WARN] failed to deliver item %q for source %d: %v", item.GUID, src.ID, err)
	} else {
		delivered = true
	}

	if err := s.forwarded.Record(ctx, src.ID, item.GUID, msgRef); err != nil {
		lgr.Printf("[ERROR] failed to record forwarded item %q for source %d: %v", item.GUID, src.ID, err)
	}

	return delivered
}
