package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/hintline/internal/events"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/providers/hint"
	"github.com/yoockh/hintline/internal/providers/stt"
	"github.com/yoockh/hintline/internal/utils"
)

const wait = 2 * time.Second

type fakeConn struct {
	msgs chan stt.Message
	once sync.Once

	mu    sync.Mutex
	err   error
	audio [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{msgs: make(chan stt.Message, 16)} }

func (c *fakeConn) Messages() <-chan stt.Message { return c.msgs }

func (c *fakeConn) SendAudio(_ models.Source, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, frame)
	return nil
}

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.msgs) })
	return nil
}

// drop simulates losing the channel.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) say(text string, src models.Source) {
	c.msgs <- stt.Message{Kind: stt.KindTranscript, Text: text, Source: src, Received: time.Now()}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(context.Context) (stt.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type call struct {
	ctx context.Context
	req models.HintRequest
	ch  chan hint.StreamEvent
}

func (c *call) answer(chunks ...string) {
	c.ch <- hint.StreamEvent{Kind: hint.EventStarted}
	full := ""
	for _, s := range chunks {
		full += s
		c.ch <- hint.StreamEvent{Kind: hint.EventChunk, Text: s}
	}
	c.ch <- hint.StreamEvent{Kind: hint.EventCompleted, Text: full, LatencyMS: 120, Cached: true}
	close(c.ch)
}

func (c *call) fail(reason hint.Reason) {
	c.ch <- hint.StreamEvent{Kind: hint.EventStarted}
	c.ch <- hint.StreamEvent{Kind: hint.EventFailed, Failure: &hint.Failure{Reason: reason}}
	close(c.ch)
}

type fakeStreamer struct{ calls chan *call }

func newFakeStreamer() *fakeStreamer { return &fakeStreamer{calls: make(chan *call, 16)} }

func (f *fakeStreamer) Stream(ctx context.Context, req models.HintRequest) <-chan hint.StreamEvent {
	c := &call{ctx: ctx, req: req, ch: make(chan hint.StreamEvent, 16)}
	f.calls <- c
	return c.ch
}

func (f *fakeStreamer) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(wait):
		t.Fatal("no hint request issued")
		return nil
	}
}

func (f *fakeStreamer) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected hint request with context %v", c.req.Context)
	case <-time.After(d):
	}
}

type memRecorder struct {
	mu    sync.Mutex
	saved []*models.Session
}

func (r *memRecorder) Save(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return nil
}

func (r *memRecorder) all() []*models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Session(nil), r.saved...)
}

type harness struct {
	p        *Pipeline
	dialer   *fakeDialer
	streamer *fakeStreamer
	recorder *memRecorder
	sub      *events.Subscription
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)

	hub := events.NewHub(256)
	h := &harness{
		dialer:   &fakeDialer{},
		streamer: newFakeStreamer(),
		recorder: &memRecorder{},
		sub:      hub.Subscribe(),
	}
	cfg := Config{
		Dialer:     h.dialer,
		Streamer:   h.streamer,
		Sink:       hub,
		Recorder:   h.recorder,
		Logger:     l,
		BufferCap:  10,
		WindowSize: 10,
		MaxChars:   2000,
		AutoHints:  true,
		Sampling:   models.Sampling{MaxTokens: 300, Temperature: 0.7},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.p = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.sub.Close()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev := <-h.sub.C():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return events.Event{}
		}
	}
}

func (h *harness) waitState(t *testing.T, s State) events.Event {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev := <-h.sub.C():
			if ev.Type == events.StateChanged && ev.State == s.String() {
				return ev
			}
		case <-deadline:
			t.Fatalf("never reached state %s", s)
			return events.Event{}
		}
	}
}

func (h *harness) start(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.p.Start(context.Background()))
	h.waitState(t, StateRunning)
	return h.dialer.last()
}

func (h *harness) pending(t *testing.T, want bool) {
	t.Helper()
	assert.Eventually(t, func() bool { return h.p.Status().HintPending == want }, wait, 5*time.Millisecond)
}

func TestPipeline_AutoHintEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("Tell me about a conflict you resolved", models.SourceSecondary)
	appended := h.waitFor(t, events.TranscriptAppended)
	require.NotNil(t, appended.Fragment)
	assert.NotEmpty(t, appended.SessionID)

	c := h.streamer.next(t)
	assert.Equal(t, []string{"Them: Tell me about a conflict you resolved"}, c.req.Context)
	assert.Equal(t, "Tell me about a conflict you resolved", c.req.Prompt)
	assert.Equal(t, DefaultProfile, c.req.Profile)
	assert.Equal(t, DefaultSystemPrompt, c.req.SystemPrompt)
	assert.Equal(t, 300, c.req.Sampling.MaxTokens)

	c.answer("Hel", "lo")

	h.waitFor(t, events.HintStarted)
	assert.Equal(t, "Hel", h.waitFor(t, events.HintChunk).Text)
	done := h.waitFor(t, events.HintCompleted)
	require.NotNil(t, done.Hint)
	assert.Equal(t, "Hello", done.Hint.Text)
	assert.Equal(t, int64(120), *done.Hint.LatencyMS)
	assert.True(t, done.Hint.Cached)
	assert.Equal(t, 1, done.Total)

	recs, pos, err := h.p.Hints(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, pos.Index)
	h.pending(t, false)
}

func TestPipeline_AutoHintSwallowsBusyAndDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("first question", models.SourceSecondary)
	c := h.streamer.next(t)

	// in flight: new fragments are folded into the buffer only
	conn.say("more detail", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	h.waitFor(t, events.TranscriptAppended)
	h.streamer.none(t, 50*time.Millisecond)

	c.answer("ok")
	h.waitFor(t, events.HintCompleted)

	conn.say("follow up", models.SourceSecondary)
	c2 := h.streamer.next(t)
	assert.Len(t, c2.req.Context, 3)
	c2.answer("sure")
	h.waitFor(t, events.HintCompleted)
}

func TestPipeline_AskNow(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoHints = false })

	_, err := h.p.AskNow(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	conn := h.start(t)

	res, err := h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskNothingNew, res)

	conn.say("what is your biggest weakness", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	h.streamer.none(t, 30*time.Millisecond)

	res, err = h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskStarted, res)
	c := h.streamer.next(t)

	res, err = h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskBusy, res)

	c.answer("Pick a real one")
	h.waitFor(t, events.HintCompleted)
	h.pending(t, false)

	res, err = h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskNothingNew, res)
}

func TestPipeline_FailedHintKeepsRunning(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("question one", models.SourceSecondary)
	h.streamer.next(t).fail(hint.ReasonTimeout)

	failed := h.waitFor(t, events.HintFailed)
	assert.Equal(t, string(hint.ReasonTimeout), failed.Reason)
	h.pending(t, false)
	assert.Equal(t, StateRunning, h.p.Status().State)

	conn.say("question two", models.SourceSecondary)
	h.streamer.next(t).answer("answer")
	h.waitFor(t, events.HintCompleted)
}

func TestPipeline_StreamClosedWithoutResultReleasesGate(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("question", models.SourceSecondary)
	c := h.streamer.next(t)
	close(c.ch)

	h.waitFor(t, events.HintFailed)
	h.pending(t, false)
}

func TestPipeline_StopReleasesAndRestartIsClean(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoHints = false })
	conn := h.start(t)

	conn.say("hello there", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	_, err := h.p.AskNow(context.Background())
	require.NoError(t, err)
	stale := h.streamer.next(t)

	require.NoError(t, h.p.Stop(context.Background()))
	st := h.p.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.HintPending)
	assert.Equal(t, 0, st.BufferLen)

	select {
	case <-stale.ctx.Done():
	case <-time.After(wait):
		t.Fatal("in-flight request not cancelled")
	}

	saved := h.recorder.all()
	require.Len(t, saved, 1)
	assert.Equal(t, models.SessionEnded, saved[0].Status)
	require.Len(t, saved[0].Transcript, 1)
	assert.Equal(t, "hello there", saved[0].Transcript[0].Text)
	assert.NotNil(t, saved[0].EndedAt)

	conn2 := h.start(t)
	conn2.say("hello there", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	res, err := h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskStarted, res, "same context is asked again in a new session")
	fresh := h.streamer.next(t)

	// the abandoned stream finishing late must not touch the new session
	stale.answer("old")
	h.streamer.none(t, 30*time.Millisecond)
	assert.Equal(t, 0, h.p.Status().Hints.Total)

	fresh.answer("new")
	done := h.waitFor(t, events.HintCompleted)
	assert.Equal(t, "new", done.Hint.Text)
	assert.Equal(t, uint64(2), done.RequestSeq)
}

func TestPipeline_StartErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.err = errors.New("connection refused")

	err := h.p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	ev := h.waitState(t, StateError)
	assert.Contains(t, ev.Error, "connection refused")

	h.dialer.mu.Lock()
	h.dialer.err = nil
	h.dialer.mu.Unlock()
	h.start(t)

	err = h.p.Start(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestPipeline_DisconnectMovesToError(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("question", models.SourceSecondary)
	c := h.streamer.next(t)

	conn.drop(errors.New("websocket: close 1006"))
	ev := h.waitState(t, StateError)
	assert.Contains(t, ev.Error, "1006")

	select {
	case <-c.ctx.Done():
	case <-time.After(wait):
		t.Fatal("in-flight request not cancelled on disconnect")
	}
	assert.False(t, h.p.Status().HintPending)

	err := h.p.SendAudio(models.SourcePrimary, []byte{1})
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	require.NoError(t, h.p.Stop(context.Background()))
	saved := h.recorder.all()
	require.Len(t, saved, 1)
	assert.Equal(t, models.SessionFailed, saved[0].Status)
	assert.Equal(t, StateIdle, h.p.Status().State)
}

func TestPipeline_Debounce(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoHintDebounce = 40 * time.Millisecond })
	conn := h.start(t)

	conn.say("one", models.SourceSecondary)
	conn.say("two", models.SourceSecondary)
	conn.say("three", models.SourceSecondary)

	c := h.streamer.next(t)
	assert.Equal(t, []string{"Them: one", "Them: two", "Them: three"}, c.req.Context)
	h.streamer.none(t, 80*time.Millisecond)
}

func TestPipeline_ContextParamsAndClear(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoHints = false })
	conn := h.start(t)

	err := h.p.SetContextParams(context.Background(), 0, 10)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	require.NoError(t, h.p.SetContextParams(context.Background(), 1, 100))

	conn.say("old line", models.SourcePrimary)
	conn.say("new line", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	h.waitFor(t, events.TranscriptAppended)

	_, err = h.p.AskNow(context.Background())
	require.NoError(t, err)
	c := h.streamer.next(t)
	assert.Equal(t, []string{"Them: new line"}, c.req.Context)
	c.answer("x")
	h.waitFor(t, events.HintCompleted)

	require.NoError(t, h.p.ClearSession(context.Background()))
	st := h.p.Status()
	assert.Equal(t, 0, st.BufferLen)
	assert.Equal(t, 0, st.Hints.Total)
	assert.Equal(t, StateRunning, st.State)
}

func TestPipeline_ClearDropsHintInFlight(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	conn.say("old question", models.SourceSecondary)
	c := h.streamer.next(t)

	require.NoError(t, h.p.ClearSession(context.Background()))
	assert.ErrorIs(t, c.ctx.Err(), context.Canceled)
	h.pending(t, false)

	c.answer("stale answer")
	deadline := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-h.sub.C():
			require.NotEqual(t, events.HintCompleted, ev.Type, "result of a cleared request was recorded")
		case <-deadline:
			done = true
		}
	}
	recs, _, err := h.p.Hints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)

	conn.say("new question", models.SourceSecondary)
	c2 := h.streamer.next(t)
	assert.Equal(t, []string{"Them: new question"}, c2.req.Context)
	c2.answer("fresh")
	assert.Equal(t, "fresh", h.waitFor(t, events.HintCompleted).Hint.Text)
}

func TestPipeline_OversizedNewestFragmentIsAsked(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AutoHints = false
		c.MaxChars = 20
	})
	conn := h.start(t)

	conn.say("short", models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)
	res, err := h.p.AskNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, AskStarted, res)
	c := h.streamer.next(t)
	c.answer("ok")
	h.waitFor(t, events.HintCompleted)
	h.pending(t, false)

	long := "could you walk me through your last system design"
	conn.say(long, models.SourceSecondary)
	h.waitFor(t, events.TranscriptAppended)

	res, err = h.p.AskNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AskStarted, res)
	c2 := h.streamer.next(t)
	assert.Empty(t, c2.req.Context)
	assert.Equal(t, long, c2.req.Prompt)
	c2.answer("sure")
	h.waitFor(t, events.HintCompleted)
}

func TestPipeline_HistoryNavigation(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(t)

	for _, q := range []string{"q1", "q2", "q3"} {
		conn.say(q, models.SourceSecondary)
		h.streamer.next(t).answer("a-" + q)
		h.waitFor(t, events.HintCompleted)
	}
	h.pending(t, false)

	v, err := h.p.PrevHint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v.Position.Index)
	assert.Equal(t, "a-q2", v.Hint.Text)

	v, _ = h.p.SelectHint(context.Background(), -5)
	assert.Equal(t, 0, v.Position.Index)

	v, _ = h.p.NextHint(context.Background())
	v, _ = h.p.NextHint(context.Background())
	v, _ = h.p.NextHint(context.Background())
	assert.Equal(t, 2, v.Position.Index)
	assert.Equal(t, 3, v.Position.Total)
}

func TestPipeline_SendAudio(t *testing.T) {
	h := newHarness(t, nil)

	err := h.p.SendAudio(models.SourcePrimary, []byte{1})
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	conn := h.start(t)
	require.NoError(t, h.p.SendAudio(models.SourcePrimary, []byte{1, 2}))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, [][]byte{{1, 2}}, conn.audio)
}

func TestPipeline_ClosedLoop(t *testing.T) {
	p := New(Config{Dialer: &fakeDialer{}, Streamer: newFakeStreamer()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	assert.ErrorIs(t, p.Start(context.Background()), ErrClosed)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "nothing_new", AskNothingNew.String())
	b, _ := StateRunning.MarshalText()
	assert.Equal(t, "running", string(b))
}
