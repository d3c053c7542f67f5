package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	streamPrefixUser    = "user:"
	streamPrefixChannel = "channel:"
)

var (
	errEmptyDestination = errors.New("broadcast: destination id required")
	errNilEvent         = errors.New("broadcast: event required")
)

// Destination is a user's personal stream or a channel room.
type Destination struct {
	stream string
}

// ToUser addresses a user's personal stream.
func ToUser(userID string) Destination {
	return Destination{stream: userStream(userID)}
}

// ToChannel addresses every member subscribed to a channel room.
func ToChannel(channelID string) Destination {
	return Destination{stream: channelStream(channelID)}
}

// Stream returns the stream key, or "" for an empty destination.
func (d Destination) Stream() string {
	return d.stream
}

func userStream(userID string) string {
	id := strings.TrimSpace(userID)
	if id == "" {
		return ""
	}
	return streamPrefixUser + id
}

func channelStream(channelID string) string {
	id := strings.TrimSpace(channelID)
	if id == "" {
		return ""
	}
	return streamPrefixChannel + id
}

// UserStream exposes the personal stream key for subscribers.
func UserStream(userID string) string {
	return userStream(userID)
}

// ChannelStream exposes the room stream key for subscribers.
func ChannelStream(channelID string) string {
	return channelStream(channelID)
}

// Message is the serialized form of an event on a stream.
type Message struct {
	Stream    string          `json:"stream"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes event for destination.
func NewMessage(destination Destination, event Event, timestamp time.Time) (Message, error) {
	if destination.stream == "" {
		return Message{}, errEmptyDestination
	}
	if event == nil {
		return Message{}, errNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("broadcast: encode %s: %w", event.EventName(), err)
	}
	return Message{
		Stream:    destination.stream,
		Event:     event.EventName(),
		Payload:   payload,
		Timestamp: timestamp.UTC(),
	}, nil
}
