package dashsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/snaprelay/lib/crosstab"
	"github.com/onkernel/snaprelay/lib/logger"
	"github.com/onkernel/snaprelay/lib/pagewire"
)

const tabWindow pagewire.Window = "window:dashboard"

type recorder struct {
	mu   sync.Mutex
	got  []Capture
	hits chan struct{}
}

func newRecorder() *recorder { return &recorder{hits: make(chan struct{}, 16)} }

func (r *recorder) fn(c Capture) {
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
	r.hits <- struct{}{}
}

func (r *recorder) captures() []Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Capture(nil), r.got...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.hits:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for capture")
	}
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case <-r.hits:
		t.Fatalf("unexpected capture: %+v", r.captures())
	case <-time.After(50 * time.Millisecond):
	}
}

func newTab(t *testing.T, opener crosstab.Opener) (*Sync, *Surface) {
	t.Helper()
	page := NewSurface(tabWindow, "https://lecturesnap.app")
	s, err := New(Options{Logger: logger.Discard(), CrossTab: opener, Page: page, Window: tabWindow})
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(s.Cleanup)
	return s, page
}

func postCapture(t *testing.T, page *Surface, id, image string, ts float64) {
	t.Helper()
	require.NoError(t, page.PostToPage(t.Context(), pagewire.CaptureResponse(id, image, ts)))
}

func TestCaptureReachesSiblingTabs(t *testing.T) {
	t.Parallel()
	hub := crosstab.NewHub(8)
	a, pageA := newTab(t, hub)
	b, _ := newTab(t, hub)
	c, _ := newTab(t, hub)
	ra, rb, rc := newRecorder(), newRecorder(), newRecorder()
	a.OnCapture(ra.fn)
	b.OnCapture(rb.fn)
	c.OnCapture(rc.fn)

	postCapture(t, pageA, "r-1", "data:image/jpeg;base64,AAAA", 42.5)

	ra.wait(t)
	rb.wait(t)
	rc.wait(t)
	assert.Equal(t, []Capture{{RequestID: "r-1", Image: "data:image/jpeg;base64,AAAA", Timestamp: 42.5}}, ra.captures())
	assert.Equal(t, []Capture{{RequestID: "r-1", Image: "data:image/jpeg;base64,AAAA", Timestamp: 42.5, Remote: true}}, rb.captures())
	// Exactly one broadcast: receivers never republish.
	ra.quiet(t)
	rb.quiet(t)
	assert.EqualValues(t, 1, hub.Published())
}

// orderedChannel records publications into a shared log.
type orderedChannel struct {
	log  *[]string
	mu   *sync.Mutex
	ch   chan []byte
	echo bool
}

func (o *orderedChannel) Open(context.Context, string) (crosstab.Channel, error) { return o, nil }

func (o *orderedChannel) Publish(_ context.Context, p []byte) error {
	o.mu.Lock()
	*o.log = append(*o.log, "publish")
	o.mu.Unlock()
	if o.echo {
		o.ch <- p
	}
	return nil
}

func (o *orderedChannel) Messages() <-chan []byte { return o.ch }

func (o *orderedChannel) Close() error {
	close(o.ch)
	return nil
}

func TestLocalListenersRunBeforeBroadcast(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		log []string
	)
	ch := &orderedChannel{log: &log, mu: &mu, ch: make(chan []byte, 4)}
	s, page := newTab(t, ch)
	s.OnCapture(func(Capture) {
		mu.Lock()
		log = append(log, "local")
		mu.Unlock()
	})

	postCapture(t, page, "", "img", 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"local", "publish"}, log)
}

func TestOwnBroadcastIsNotRedelivered(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var log []string
	// A transport that loops publications back to the sender.
	ch := &orderedChannel{log: &log, mu: &mu, ch: make(chan []byte, 4), echo: true}
	s, page := newTab(t, ch)
	r := newRecorder()
	s.OnCapture(r.fn)

	postCapture(t, page, "", "img", 1)
	r.wait(t)
	r.quiet(t)
	assert.Len(t, r.captures(), 1)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	s, page := newTab(t, crosstab.NewHub(4))
	r := newRecorder()
	keep := newRecorder()
	unsubscribe := s.OnCapture(r.fn)
	s.OnCapture(keep.fn)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, s.Listeners())

	postCapture(t, page, "", "img", 1)
	keep.wait(t)
	r.quiet(t)
}

func TestCleanupStopsEverything(t *testing.T) {
	t.Parallel()
	hub := crosstab.NewHub(8)
	s, page := newTab(t, hub)
	sibling, siblingPage := newTab(t, hub)
	r := newRecorder()
	unsubscribe := s.OnCapture(r.fn)
	sibling.OnCapture(func(Capture) {})

	s.Cleanup()
	s.Cleanup()
	unsubscribe()
	assert.Zero(t, s.Listeners())
	assert.Equal(t, 1, hub.Members(DefaultChannel))

	// Neither local page events nor sibling broadcasts reach it any more.
	postCapture(t, page, "", "img", 1)
	postCapture(t, siblingPage, "", "img", 2)
	r.quiet(t)

	assert.Error(t, s.Start(t.Context()))
	s.OnCapture(r.fn)()
}

func TestIgnoresForeignAndUnrelatedEvents(t *testing.T) {
	t.Parallel()
	s, page := newTab(t, crosstab.NewHub(4))
	r := newRecorder()
	s.OnCapture(r.fn)

	page.Dispatch(pagewire.Event{Source: "frame:ad", Origin: page.Origin(), Data: []byte(`{"type":"LECTURESNAP_CAPTURE_RESPONSE","data":"x","timestamp":1}`)})
	require.NoError(t, page.PostToPage(t.Context(), pagewire.Pong()))
	require.NoError(t, page.PostToPage(t.Context(), pagewire.CaptureError("r", "no source")))
	page.Dispatch(pagewire.Event{Source: tabWindow, Data: []byte(`garbage`)})
	r.quiet(t)
}

func TestStartTwiceIsNoop(t *testing.T) {
	t.Parallel()
	hub := crosstab.NewHub(4)
	s, _ := newTab(t, hub)
	require.NoError(t, s.Start(t.Context()))
	assert.Equal(t, 1, hub.Members(DefaultChannel))
}

// blockingListener parks inside its callback until released.
type blockingListener struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingListener() *blockingListener {
	return &blockingListener{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingListener) fn(Capture) {
	b.entered <- struct{}{}
	<-b.release
}

func (b *blockingListener) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never ran")
	}
}

func dispatchAsync(page *Surface) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = page.PostToPage(context.Background(), pagewire.CaptureResponse("", "img", 1))
	}()
	return done
}

func TestUnsubscribeDuringDispatchSkipsListener(t *testing.T) {
	t.Parallel()
	s, page := newTab(t, crosstab.NewHub(4))
	first := newBlockingListener()
	r := newRecorder()
	s.OnCapture(first.fn)
	unsubscribe := s.OnCapture(r.fn)

	done := dispatchAsync(page)
	first.waitEntered(t)
	unsubscribe()
	close(first.release)
	<-done

	r.quiet(t)
	assert.Empty(t, r.captures())
}

func TestCleanupWaitsForRunningCallbacks(t *testing.T) {
	t.Parallel()
	s, page := newTab(t, crosstab.NewHub(4))
	first := newBlockingListener()
	r := newRecorder()
	s.OnCapture(first.fn)
	s.OnCapture(r.fn)

	dispatched := dispatchAsync(page)
	first.waitEntered(t)

	cleaned := make(chan struct{})
	go func() {
		s.Cleanup()
		close(cleaned)
	}()
	select {
	case <-cleaned:
		t.Fatal("Cleanup returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(first.release)
	select {
	case <-cleaned:
	case <-time.After(5 * time.Second):
		t.Fatal("Cleanup never returned")
	}
	<-dispatched

	r.quiet(t)
	assert.Empty(t, r.captures())
}
