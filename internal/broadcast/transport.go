package broadcast

import (
	"context"
	"strings"
	"time"
)

// Transport delivers events and reports failures. The audited operation log
// calls it directly; membership code goes through Fanout instead.
type Transport interface {
	PublishToUser(ctx context.Context, userID string, event Event) error
	PublishToChannel(ctx context.Context, channelID string, event Event) error
}

// LocalTransport publishes straight into an in-process Dispatcher.
type LocalTransport struct {
	dispatcher *Dispatcher
	clock      func() time.Time
}

// NewLocalTransport binds a transport to dispatcher.
func NewLocalTransport(dispatcher *Dispatcher, clock func() time.Time) *LocalTransport {
	if clock == nil {
		clock = time.Now
	}
	return &LocalTransport{dispatcher: dispatcher, clock: clock}
}

func (t *LocalTransport) PublishToUser(ctx context.Context, userID string, event Event) error {
	return t.publish(ctx, ToUser(userID), event)
}

func (t *LocalTransport) PublishToChannel(ctx context.Context, channelID string, event Event) error {
	return t.publish(ctx, ToChannel(channelID), event)
}

func (t *LocalTransport) publish(ctx context.Context, destination Destination, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message, err := NewMessage(destination, event, t.clock())
	if err != nil {
		return err
	}
	t.dispatcher.Publish(message)
	return nil
}

func publishTo(ctx context.Context, transport Transport, destination Destination, event Event) error {
	stream := destination.Stream()
	if userID, ok := strings.CutPrefix(stream, streamPrefixUser); ok && userID != "" {
		return transport.PublishToUser(ctx, userID, event)
	}
	if channelID, ok := strings.CutPrefix(stream, streamPrefixChannel); ok && channelID != "" {
		return transport.PublishToChannel(ctx, channelID, event)
	}
	return errEmptyDestination
}
