package wsport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/coder/websocket"

	"github.com/onkernel/snaprelay/lib/relay"
)

// DialOptions configures Dial.
type DialOptions struct {
	Logger *slog.Logger
	Kind   relay.ContextKind
	// Attempts bounds connection attempts. Zero means 5.
	Attempts uint
	// Delay separates attempts. Zero means 500ms.
	Delay  time.Duration
	Header http.Header
	Outbox int
}

// Dial connects to a relay endpoint such as ws://localhost:10001/relay/ws as
// a context of opts.Kind. Only the handshake is retried.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*Conn, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("dial relay: invalid context kind %q", opts.Kind)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	q := u.Query()
	q.Set("kind", string(opts.Kind))
	u.RawQuery = q.Encode()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 5
	}
	delay := opts.Delay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	var c *websocket.Conn
	err = retry.New(
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: opts.Header})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			logger.Debug("wsport: dial failed", "url", u.String(), "err", err)
			return err
		}
		c = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Redacted(), err)
	}
	return NewConn(c, logger, opts.Outbox), nil
}
