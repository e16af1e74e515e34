// Package pipeline turns the live transcript feed into hint requests. One
// loop goroutine owns every piece of mutable state; the exported methods
// hand work to that loop and wait for it to finish.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/events"
	"github.com/yoockh/hintline/internal/gate"
	"github.com/yoockh/hintline/internal/history"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/providers/hint"
	"github.com/yoockh/hintline/internal/providers/stt"
	"github.com/yoockh/hintline/internal/transcript"
	"github.com/yoockh/hintline/internal/utils"
)

const (
	DefaultBufferCap  = 50
	DefaultWindowSize = 10
	DefaultMaxChars   = 2000
	DefaultProfile    = "interview"
	DefaultMaxTokens  = 300

	DefaultSystemPrompt = "You are a real-time conversation assistant. " +
		"Read the latest exchange and give the user one short, concrete hint " +
		"they can say or do next. Answer in at most three sentences."
)

var ErrClosed = errors.New("pipeline loop is not running")

// Recorder persists the session blob when a session stops.
type Recorder interface {
	Save(ctx context.Context, s *models.Session) error
}

type Config struct {
	Dialer   stt.Dialer
	Streamer hint.Streamer
	Sink     events.Sink
	Recorder Recorder
	Logger   *logrus.Logger

	BufferCap  int
	WindowSize int
	MaxChars   int
	Labels     transcript.Labels

	AutoHints        bool
	AutoHintDebounce time.Duration

	Profile      string
	SystemPrompt string
	UserContext  string
	Model        string
	Sampling     models.Sampling
}

type Pipeline struct {
	cfg  Config
	log  *logrus.Logger
	sink events.Sink

	cmds    chan func()
	streamC chan streamMsg
	closed  chan struct{}
	runOnce sync.Once

	// owned by the loop goroutine
	ctx       context.Context
	state     State
	lastErr   string
	buf       *transcript.Buffer
	builder   *transcript.Builder
	gate      *gate.Gate
	hist      *history.History
	auto      bool
	window    int
	maxChars  int
	session   *models.Session
	conn      stt.Conn
	msgs      <-chan stt.Message
	seq       uint64
	flight    *flight
	debounce  *time.Timer
	debounceC <-chan time.Time

	audioMu   sync.RWMutex
	audioConn stt.Conn

	statusMu sync.RWMutex
	status   Status
}

func New(cfg Config) *Pipeline {
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MaxChars < 0 {
		cfg.MaxChars = 0
	}
	if cfg.Labels == (transcript.Labels{}) {
		cfg.Labels = transcript.DefaultLabels()
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Sampling.MaxTokens <= 0 {
		cfg.Sampling.MaxTokens = DefaultMaxTokens
	}
	l := cfg.Logger
	if l == nil {
		l = logrus.New()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard
	}

	p := &Pipeline{
		cfg:      cfg,
		log:      l,
		sink:     sink,
		cmds:     make(chan func()),
		streamC:  make(chan streamMsg, 16),
		closed:   make(chan struct{}),
		state:    StateIdle,
		buf:      transcript.NewBuffer(cfg.BufferCap),
		builder:  transcript.NewBuilder(cfg.Labels),
		gate:     gate.New(),
		hist:     history.New(),
		auto:     cfg.AutoHints,
		window:   cfg.WindowSize,
		maxChars: cfg.MaxChars,
	}
	p.publishStatus()
	return p
}

// Run drives the loop until ctx is done. A running session is stopped on exit.
func (p *Pipeline) Run(ctx context.Context) {
	first := false
	p.runOnce.Do(func() { first = true })
	if !first {
		p.log.Warn("pipeline Run called twice")
		return
	}
	defer close(p.closed)

	p.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.stop(shutdown)
			cancel()
			return
		case fn := <-p.cmds:
			fn()
		case m, ok := <-p.msgs:
			if !ok {
				p.onDisconnect()
			} else {
				p.onMessage(m)
			}
		case m := <-p.streamC:
			p.onStream(m)
		case <-p.debounceC:
			p.debounceC = nil
			p.autoAttempt()
		}
		p.publishStatus()
	}
}

// do runs fn on the loop goroutine and waits for it.
func (p *Pipeline) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}
	select {
	case p.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	}
	<-done
	return nil
}

func (p *Pipeline) Start(ctx context.Context) error {
	var err error
	if derr := p.do(ctx, func() { err = p.start(ctx) }); derr != nil {
		return derr
	}
	return err
}

func (p *Pipeline) Stop(ctx context.Context) error {
	return p.do(ctx, func() { p.stop(ctx) })
}

// AskNow runs the hint request sequence on demand. Busy and nothing-new are
// reported as results, not errors.
func (p *Pipeline) AskNow(ctx context.Context) (AskResult, error) {
	const op = "Pipeline.AskNow"
	var (
		res AskResult
		err error
	)
	derr := p.do(ctx, func() {
		if p.state != StateRunning {
			err = utils.E(utils.CodeConflict, op, "pipeline is not running", nil)
			return
		}
		res = p.attempt("manual")
	})
	if derr != nil {
		return 0, derr
	}
	return res, err
}

func (p *Pipeline) SetAutoHints(ctx context.Context, enabled bool) error {
	return p.do(ctx, func() {
		p.auto = enabled
		if !enabled {
			p.stopDebounce()
		}
	})
}

func (p *Pipeline) SetContextParams(ctx context.Context, windowSize, maxChars int) error {
	const op = "Pipeline.SetContextParams"
	if windowSize < 1 || maxChars < 0 {
		return utils.E(utils.CodeInvalidArgument, op, "window_size must be >= 1 and max_chars >= 0", nil)
	}
	return p.do(ctx, func() {
		p.window = windowSize
		p.maxChars = maxChars
	})
}

// ClearSession empties the transcript and the hint history without touching
// the transcription channel. A hint in flight is cancelled and its result
// dropped. The next non-empty context is asked again.
func (p *Pipeline) ClearSession(ctx context.Context) error {
	return p.do(ctx, func() {
		p.endFlight()
		p.gate.Reset()
		p.buf.Clear()
		p.hist.Clear()
		p.gate.Forget()
		p.stopDebounce()
	})
}

// HintView is the hint under the cursor together with the pager position.
type HintView struct {
	Position history.Position  `json:"position"`
	Hint     *models.HintRecord `json:"hint,omitempty"`
}

func (p *Pipeline) view() HintView {
	v := HintView{Position: p.hist.Position()}
	if r, ok := p.hist.Current(); ok {
		v.Hint = &r
	}
	return v
}

func (p *Pipeline) PrevHint(ctx context.Context) (HintView, error) {
	var v HintView
	err := p.do(ctx, func() { p.hist.Prev(); v = p.view() })
	return v, err
}

func (p *Pipeline) NextHint(ctx context.Context) (HintView, error) {
	var v HintView
	err := p.do(ctx, func() { p.hist.Next(); v = p.view() })
	return v, err
}

func (p *Pipeline) SelectHint(ctx context.Context, i int) (HintView, error) {
	var v HintView
	err := p.do(ctx, func() { p.hist.Select(i); v = p.view() })
	return v, err
}

// Hints returns a copy of the session's hint history.
func (p *Pipeline) Hints(ctx context.Context) ([]models.HintRecord, history.Position, error) {
	var (
		recs []models.HintRecord
		pos  history.Position
	)
	err := p.do(ctx, func() {
		recs = p.hist.Records()
		pos = p.hist.Position()
	})
	return recs, pos, err
}

func (p *Pipeline) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

// SendAudio forwards one captured frame to the transcription channel.
func (p *Pipeline) SendAudio(source models.Source, frame []byte) error {
	const op = "Pipeline.SendAudio"
	p.audioMu.RLock()
	conn := p.audioConn
	p.audioMu.RUnlock()
	if conn == nil {
		return utils.E(utils.CodeConflict, op, "pipeline is not running", nil)
	}
	if err := conn.SendAudio(source, frame); err != nil {
		return utils.E(utils.CodeUnavailable, op, "transcription channel write failed", err)
	}
	return nil
}

func (p *Pipeline) setAudio(c stt.Conn) {
	p.audioMu.Lock()
	p.audioConn = c
	p.audioMu.Unlock()
}

func (p *Pipeline) publishStatus() {
	s := Status{
		State:       p.state,
		AutoHints:   p.auto,
		WindowSize:  p.window,
		MaxChars:    p.maxChars,
		BufferLen:   p.buf.Len(),
		HintPending: p.gate.Pending(),
		Hints:       p.hist.Position(),
		Error:       p.lastErr,
	}
	if p.session != nil {
		s.SessionID = p.session.SessionID
		started := p.session.StartedAt
		s.StartedAt = &started
	}
	p.statusMu.Lock()
	p.status = s
	p.statusMu.Unlock()
}
