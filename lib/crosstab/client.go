package crosstab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"
)

// DialOptions configures Dial.
type DialOptions struct {
	Logger *slog.Logger
	// Attempts bounds connection attempts. Zero means 5.
	Attempts uint
	// Delay separates attempts. Zero means 500ms.
	Delay  time.Duration
	Header http.Header
}

// Dial joins a channel served by a Server at url, for example
// ws://localhost:10001/crosstab/lecturesnap-captures. Only the connection is
// retried; payloads are never re-sent.
func Dial(ctx context.Context, url string, opts DialOptions) (Channel, error) {
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
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	var conn *websocket.Conn
	err := retry.New(
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		c, resp, err := dialer.DialContext(ctx, url, opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			logger.Debug("crosstab: dial failed", "url", url, "err", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial crosstab %s: %w", url, err)
	}

	c := &wsChannel{conn: conn, ch: make(chan []byte, defaultBuffer), done: make(chan struct{})}
	go c.readLoop(logger)
	return c, nil
}

type wsChannel struct {
	conn    *websocket.Conn
	ch      chan []byte
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsChannel) readLoop(logger *slog.Logger) {
	defer close(c.ch)
	c.conn.SetReadLimit(maxPayload)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Debug("crosstab: connection lost", "err", err)
			}
			return
		}
		select {
		case c.ch <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) Publish(_ context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("crosstab publish: %w", err)
	}
	return nil
}

func (c *wsChannel) Messages() <-chan []byte { return c.ch }

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

// DialOpener opens channels on a remote Server. Base is the channel route
// prefix, for example ws://localhost:10001/crosstab/.
type DialOpener struct {
	Base    string
	Options DialOptions
}

func (d DialOpener) Open(ctx context.Context, name string) (Channel, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	return Dial(ctx, strings.TrimSuffix(d.Base, "/")+"/"+name, d.Options)
}
