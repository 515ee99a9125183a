package crosstab

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/snaprelay/lib/logger"
)

func receive(t *testing.T, c Channel) []byte {
	t.Helper()
	select {
	case p, ok := <-c.Messages():
		require.True(t, ok, "channel closed")
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertQuiet(t *testing.T, c Channel) {
	t.Helper()
	select {
	case p := <-c.Messages():
		t.Fatalf("unexpected payload %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFansOutToOtherMembersOnly(t *testing.T) {
	t.Parallel()
	hub := NewHub(4)
	a, err := hub.Open(t.Context(), "captures")
	require.NoError(t, err)
	b, err := hub.Open(t.Context(), "captures")
	require.NoError(t, err)
	other, err := hub.Open(t.Context(), "elsewhere")
	require.NoError(t, err)

	require.NoError(t, a.Publish(t.Context(), []byte("frame")))
	assert.Equal(t, []byte("frame"), receive(t, b))
	assertQuiet(t, a)
	assertQuiet(t, other)
	assert.Equal(t, 2, hub.Members("captures"))
}

func TestHubCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	hub := NewHub(4)
	a, err := hub.Open(t.Context(), "captures")
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Publish(t.Context(), []byte("x")), ErrClosed)
	_, ok := <-a.Messages()
	assert.False(t, ok)
	assert.Zero(t, hub.Members("captures"))
}

func TestHubDropsWhenMemberIsFull(t *testing.T) {
	t.Parallel()
	hub := NewHub(1)
	a, _ := hub.Open(t.Context(), "captures")
	_, _ = hub.Open(t.Context(), "captures")

	require.NoError(t, a.Publish(t.Context(), []byte("1")))
	require.NoError(t, a.Publish(t.Context(), []byte("2")))
	assert.EqualValues(t, 1, hub.Dropped())
}

func TestValidName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"lecturesnap-captures", false},
		{"", true},
		{"a/b", true},
		{"with space", true},
		{strings.Repeat("x", 129), true},
	}
	for _, tt := range tests {
		err := ValidName(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
	}
}

func TestPipeJoinsTwoHubs(t *testing.T) {
	t.Parallel()
	left, right := NewHub(4), NewHub(4)
	lp, _ := left.Open(t.Context(), "captures")
	rp, _ := right.Open(t.Context(), "captures")
	l, _ := left.Open(t.Context(), "captures")
	r, _ := right.Open(t.Context(), "captures")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Pipe(ctx, lp, rp) }()

	require.NoError(t, l.Publish(t.Context(), []byte("from-left")))
	assert.Equal(t, []byte("from-left"), receive(t, r))
	require.NoError(t, r.Publish(t.Context(), []byte("from-right")))
	assert.Equal(t, []byte("from-right"), receive(t, l))
	// Nothing bounces back to the publisher.
	assertQuiet(t, l)

	cancel()
	assert.NoError(t, <-done)
}

func newTestServer(t *testing.T, opts ServerOptions) (*Server, string) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	s := NewServer(opts)
	r := chi.NewRouter()
	r.Handle("/crosstab/{channel}", s)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/crosstab/"
}

func TestServerRelaysBetweenClients(t *testing.T) {
	t.Parallel()
	s, base := newTestServer(t, ServerOptions{Hub: NewHub(8)})

	a, err := Dial(t.Context(), base+"captures", DialOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(t.Context(), base+"captures", DialOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return s.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Publish(t.Context(), []byte(`{"image":"AAAA"}`)))
	assert.Equal(t, []byte(`{"image":"AAAA"}`), receive(t, b))
	assertQuiet(t, a)
}

func TestServerRejectsBadOrigin(t *testing.T) {
	t.Parallel()
	_, base := newTestServer(t, ServerOptions{
		Hub:         NewHub(8),
		CheckOrigin: func(origin string) bool { return origin == "https://lecturesnap.app" },
	})

	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, err := Dial(t.Context(), base+"captures", DialOptions{Logger: logger.Discard(), Attempts: 1, Header: header})
	assert.Error(t, err)

	header = map[string][]string{"Origin": {"https://lecturesnap.app"}}
	c, err := Dial(t.Context(), base+"captures", DialOptions{Logger: logger.Discard(), Attempts: 1, Header: header})
	require.NoError(t, err)
	_ = c.Close()
}

func TestServersShareUpstream(t *testing.T) {
	t.Parallel()
	upstream := NewHub(8)
	sa, baseA := newTestServer(t, ServerOptions{Hub: NewHub(8), Upstream: upstream})
	sb, baseB := newTestServer(t, ServerOptions{Hub: NewHub(8), Upstream: upstream})

	a, err := Dial(t.Context(), baseA+"captures", DialOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(t.Context(), baseB+"captures", DialOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool {
		return upstream.Members("captures") == 2 && sa.Clients() == 1 && sb.Clients() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Publish(t.Context(), []byte("cross-process")))
	assert.Equal(t, []byte("cross-process"), receive(t, b))
}

func TestGossipBetweenHosts(t *testing.T) {
	if testing.Short() {
		t.Skip("starts libp2p hosts")
	}
	t.Parallel()
	opts := GossipOptions{Logger: logger.Discard(), ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}
	first, err := NewGossip(t.Context(), opts)
	require.NoError(t, err)
	defer first.Close()

	opts.Bootstrap = first.ListenAddrs()
	second, err := NewGossip(t.Context(), opts)
	require.NoError(t, err)
	defer second.Close()
	require.Contains(t, second.Peers(), first.PeerID())

	a, err := first.Open(t.Context(), "captures")
	require.NoError(t, err)
	b, err := second.Open(t.Context(), "captures")
	require.NoError(t, err)

	// The mesh forms on the gossipsub heartbeat, so publish until it lands.
	var got []byte
	require.Eventually(t, func() bool {
		_ = a.Publish(t.Context(), []byte("frame"))
		select {
		case got = <-b.Messages():
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 15*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("frame"), got)

	// Own publications never come back.
	for {
		select {
		case p := <-a.Messages():
			t.Fatalf("echoed payload %q", p)
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}
