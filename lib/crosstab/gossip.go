package crosstab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/onkernel/snaprelay/lib/zstdutil"
)

// GossipOptions configures the libp2p channel transport.
type GossipOptions struct {
	Logger      *slog.Logger
	ListenAddrs []string
	Bootstrap   []string
	// TopicPrefix namespaces channel names on the gossip network.
	TopicPrefix string
	Level       zstdutil.CompressionLevel
}

// Gossip opens channels as gossipsub topics so dashboards served by separate
// relay processes see each other's captures. Payloads are zstd-compressed on
// the wire. A process should hold at most one membership per name: messages
// this host published are never delivered back to it.
type Gossip struct {
	logger *slog.Logger
	prefix string
	codec  *zstdutil.Codec

	ctx    context.Context
	cancel context.CancelFunc
	host   host.Host
	ps     *pubsub.PubSub

	mu       sync.Mutex
	topics   map[string]*pubsub.Topic
	channels map[*gossipChannel]struct{}
}

// NewGossip starts a libp2p host and joins the configured bootstrap peers.
func NewGossip(parent context.Context, opts GossipOptions) (*Gossip, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}
	codec, err := zstdutil.NewCodec(opts.Level)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, err
	}

	g := &Gossip{
		logger:   logger,
		prefix:   opts.TopicPrefix,
		codec:    codec,
		ctx:      ctx,
		cancel:   cancel,
		host:     h,
		ps:       ps,
		topics:   make(map[string]*pubsub.Topic),
		channels: make(map[*gossipChannel]struct{}),
	}
	if g.prefix == "" {
		g.prefix = "lecturesnap/crosstab/"
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		if err := g.Connect(ctx, raw); err != nil {
			logger.Warn("crosstab: skip bootstrap peer", "addr", raw, "err", err)
		}
	}
	return g, nil
}

// Connect dials a peer given its full /p2p/ multiaddr.
func (g *Gossip) Connect(ctx context.Context, addr string) error {
	a, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(a)
	if err != nil {
		return fmt.Errorf("peer info: %w", err)
	}
	if err := g.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	g.logger.Info("crosstab: connected peer", "peer", info.ID.String())
	return nil
}

// Open joins the gossip topic for name.
func (g *Gossip) Open(_ context.Context, name string) (Channel, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	t, err := g.topic(name)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	ctx, cancel := context.WithCancel(g.ctx)
	c := &gossipChannel{g: g, topic: t, sub: sub, ch: make(chan []byte, defaultBuffer), ctx: ctx, cancel: cancel}

	g.mu.Lock()
	g.channels[c] = struct{}{}
	g.mu.Unlock()

	go c.readLoop()
	return c, nil
}

// PeerID returns this host's peer id.
func (g *Gossip) PeerID() string { return g.host.ID().String() }

// ListenAddrs returns dialable /p2p/ addresses of this host.
func (g *Gossip) ListenAddrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, addr := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), g.host.ID().String()))
	}
	return out
}

// Peers returns the ids of connected peers.
func (g *Gossip) Peers() []string {
	peers := g.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

// Close leaves every topic and stops the host.
func (g *Gossip) Close() error {
	g.mu.Lock()
	channels := make([]*gossipChannel, 0, len(g.channels))
	for c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.Unlock()
	for _, c := range channels {
		_ = c.Close()
	}

	g.cancel()
	g.mu.Lock()
	for _, t := range g.topics {
		_ = t.Close()
	}
	g.topics = make(map[string]*pubsub.Topic)
	g.mu.Unlock()
	g.codec.Close()
	return g.host.Close()
}

func (g *Gossip) topic(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(g.prefix + name)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

type gossipChannel struct {
	g     *Gossip
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	ch    chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *gossipChannel) readLoop() {
	defer close(c.ch)
	self := c.g.host.ID()
	for {
		msg, err := c.sub.Next(c.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		payload, err := c.g.codec.Decompress(msg.Data)
		if err != nil {
			c.g.logger.Debug("crosstab: dropping undecodable gossip payload", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		select {
		case c.ch <- payload:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *gossipChannel) Publish(ctx context.Context, payload []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if err := c.topic.Publish(ctx, c.g.codec.Compress(payload)); err != nil {
		return fmt.Errorf("gossip publish: %w", err)
	}
	return nil
}

func (c *gossipChannel) Messages() <-chan []byte { return c.ch }

func (c *gossipChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sub.Cancel()
		c.g.mu.Lock()
		delete(c.g.channels, c)
		c.g.mu.Unlock()
	})
	return nil
}
