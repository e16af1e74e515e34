// Package hint is the client of the AI hint backend. It posts one request and
// turns the backend's `data:` line stream into StreamEvents.
package hint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/models"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultStreamPath = "/api/hint/stream"

	maxLineBytes  = 1 << 20
	maxErrorBytes = 4 << 10
)

var errTimeout = errors.New("hint request timed out")

type Config struct {
	BaseURL    string
	StreamPath string
	APIKey     string
	Timeout    time.Duration

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	log      *logrus.Logger
}

func NewClient(cfg Config) *Client {
	path := cfg.StreamPath
	if path == "" {
		path = DefaultStreamPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// no client-level timeout: it would cut long streams, the request ctx bounds the call
		hc = &http.Client{}
	}
	l := cfg.Logger
	if l == nil {
		l = logrus.New()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + path,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http:     hc,
		log:      l,
	}
}

type wireRequest struct {
	Text         string   `json:"text"`
	Context      []string `json:"context"`
	Profile      string   `json:"profile"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  float64  `json:"temperature"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt"`
	UserContext  string   `json:"user_context,omitempty"`
}

func (c *Client) Stream(ctx context.Context, req models.HintRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go c.run(ctx, req, out)
	return out
}

// emitter drops every event once the caller's context is done.
type emitter struct {
	caller context.Context
	out    chan<- StreamEvent
}

func (e emitter) send(ev StreamEvent) bool {
	if e.caller.Err() != nil {
		return false
	}
	select {
	case e.out <- ev:
		return true
	case <-e.caller.Done():
		return false
	}
}

func (e emitter) fail(f *Failure) {
	e.send(StreamEvent{Kind: EventFailed, Failure: f})
}

func (c *Client) run(caller context.Context, req models.HintRequest, out chan<- StreamEvent) {
	defer close(out)

	ctx, cancel := context.WithTimeoutCause(caller, c.timeout, errTimeout)
	defer cancel()

	requestID := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{
		"request_id":    requestID,
		"context_lines": len(req.Context),
		"profile":       req.Profile,
	})
	em := emitter{caller: caller, out: out}
	start := time.Now()

	if !em.send(StreamEvent{Kind: EventStarted}) {
		return
	}

	resp, err := c.post(ctx, requestID, req)
	if err != nil {
		if f := classify(ctx, caller, err, ReasonTransportUnreachable); f != nil {
			log.WithError(err).Warn("hint request failed")
			em.fail(f)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		f := &Failure{Reason: ReasonHTTPError, Status: resp.StatusCode}
		if body := strings.TrimSpace(string(b)); body != "" {
			f.Err = errors.New(body)
		}
		log.WithField("status", resp.StatusCode).Warn("hint backend returned error status")
		em.fail(f)
		return
	}

	var (
		full    strings.Builder
		ttft    *int64
		final   *wireEvent
		records int
	)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for final == nil && sc.Scan() {
		ev, ok, perr := parseLine(sc.Text())
		if perr != nil {
			log.WithError(perr).Warn("malformed hint stream record")
			em.fail(&Failure{Reason: ReasonMalformedStream, Err: perr})
			return
		}
		if !ok {
			continue
		}
		records++
		if ev.Chunk != "" {
			if ttft == nil {
				ms := time.Since(start).Milliseconds()
				ttft = &ms
				log.WithField("ttft_ms", ms).Debug("first hint token")
			}
			full.WriteString(ev.Chunk)
			if !em.send(StreamEvent{Kind: EventChunk, Text: ev.Chunk}) {
				return
			}
		}
		if ev.Done {
			final = &ev
		}
	}
	if final == nil {
		if err := sc.Err(); err != nil {
			if f := classify(ctx, caller, err, ReasonMalformedStream); f != nil {
				log.WithError(err).Warn("hint stream read failed")
				em.fail(f)
			}
			return
		}
		if records == 0 {
			log.Warn("hint stream carried no records")
			em.fail(&Failure{Reason: ReasonMalformedStream, Err: errors.New("no data records in stream")})
			return
		}
		// the backend closed the stream without a done record
		final = &wireEvent{}
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		log.Warn("hint stream completed without text")
		em.fail(&Failure{Reason: ReasonEmptyResponse})
		return
	}

	latency := time.Since(start).Milliseconds()
	if final.LatencyMS != nil {
		latency = int64(*final.LatencyMS)
	}
	log.WithFields(logrus.Fields{
		"latency_ms": latency,
		"cached":     final.Cached,
		"chars":      len(text),
	}).Info("hint completed")

	em.send(StreamEvent{
		Kind:         EventCompleted,
		Text:         text,
		LatencyMS:    latency,
		TTFTMS:       ttft,
		Cached:       final.Cached,
		QuestionType: models.QuestionType(final.QuestionType),
	})
}

func (c *Client) post(ctx context.Context, requestID string, req models.HintRequest) (*http.Response, error) {
	body := wireRequest{
		Text:         req.Prompt,
		Context:      req.Context,
		Profile:      req.Profile,
		MaxTokens:    req.Sampling.MaxTokens,
		Temperature:  req.Sampling.Temperature,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UserContext:  req.UserContext,
	}
	if body.Context == nil {
		body.Context = []string{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Request-Id", requestID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(httpReq)
}

// classify maps a transport error onto the failure taxonomy. It returns nil
// when the caller cancelled, since nothing may be reported after that.
func classify(ctx, caller context.Context, err error, fallback Reason) *Failure {
	if caller.Err() != nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), errTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: ReasonTimeout, Err: errTimeout}
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return &Failure{Reason: ReasonMalformedStream, Err: err}
	}
	return &Failure{Reason: fallback, Err: err}
}
