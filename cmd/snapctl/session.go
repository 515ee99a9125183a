package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/onkernel/snaprelay/lib/panelbridge"
	"github.com/onkernel/snaprelay/lib/relay"
	"github.com/onkernel/snaprelay/lib/wsport"
)

var errRelayClosed = errors.New("relay connection closed")

// panelSession is a panel context: requests go out through the panel bridge
// and everything the coordinator sends lands on frame.
type panelSession struct {
	conn  *wsport.Conn
	panel *panelbridge.Bridge
	frame *relay.MemoryPort
}

func dialPanel(ctx context.Context, opts *rootOptions, logger *slog.Logger) (*panelSession, error) {
	conn, err := wsport.Dial(ctx, opts.relayURL, wsport.DialOptions{
		Logger: logger,
		Kind:   relay.ContextPanel,
	})
	if err != nil {
		return nil, err
	}
	frame := relay.NewMemoryPort(256)
	panel, err := panelbridge.New(panelbridge.Options{Logger: logger, Relay: conn, Frame: frame})
	if err != nil {
		conn.Close("setup failed")
		return nil, err
	}
	go func() {
		if err := conn.ReadLoop(ctx, panel.OnRelayMessage); err != nil {
			logger.Debug("relay read loop ended", "err", err)
		}
		frame.Close()
	}()
	return &panelSession{conn: conn, panel: panel, frame: frame}, nil
}

func (s *panelSession) Close() { s.conn.Close("done") }

// await returns the reply to request id. Broadcasts for other requests are
// skipped.
func (s *panelSession) await(ctx context.Context, id string) (relay.Message, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("request %s: %w", id, relay.ErrRequestTimeout)
			}
			return nil, ctx.Err()
		case m, ok := <-s.frame.Messages():
			if !ok {
				return nil, errRelayClosed
			}
			if m.RequestID() == id {
				return m, nil
			}
		}
	}
}

func (o *rootOptions) header() http.Header {
	if o.origin == "" {
		return nil
	}
	return http.Header{"Origin": {o.origin}}
}

// printMessage writes m in its wire form followed by a newline. An error
// report is printed and also returned as an error.
func printMessage(w io.Writer, m relay.Message) error {
	data, err := relay.Encode(m)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}
	if r, ok := m.(relay.ErrorReport); ok {
		return fmt.Errorf("%s: %w", r.Message, r.Err())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
