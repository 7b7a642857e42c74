package relay

import "context"

// Publisher pushes display events toward whatever is fanning them out.
// Publishing is best-effort; callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. Used when no Redis is reachable so the
// ticket API keeps working without a display.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}
