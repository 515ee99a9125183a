// Package crosstab carries broadcast payloads between sibling dashboard tabs.
// A Channel is named; every member of a name receives what the other members
// publish, never its own messages.
package crosstab

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when publishing on a closed channel.
var ErrClosed = errors.New("crosstab: channel closed")

// Channel is one membership of a named broadcast channel.
type Channel interface {
	// Publish sends payload to every other member. It does not wait for
	// delivery.
	Publish(ctx context.Context, payload []byte) error
	// Messages yields payloads published by other members. It is closed when
	// the channel closes.
	Messages() <-chan []byte
	// Close leaves the channel. It is safe to call more than once.
	Close() error
}

// Opener joins named channels.
type Opener interface {
	Open(ctx context.Context, name string) (Channel, error)
}

// ValidName reports whether name is usable as a channel name.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("crosstab: empty channel name")
	}
	if len(name) > 128 {
		return fmt.Errorf("crosstab: channel name too long")
	}
	if strings.ContainsAny(name, "/ \t\r\n") {
		return fmt.Errorf("crosstab: invalid channel name %q", name)
	}
	return nil
}
