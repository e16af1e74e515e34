package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/events"
	"github.com/yoockh/hintline/internal/gate"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/providers/hint"
	"github.com/yoockh/hintline/internal/providers/stt"
	"github.com/yoockh/hintline/internal/utils"
)

// flight is the one outstanding hint request.
type flight struct {
	seq    uint64
	lease  *gate.Lease
	cancel context.CancelFunc
}

// streamMsg carries a stream event back to the loop. end is set by the
// consumer goroutine once the stream channel is drained.
type streamMsg struct {
	seq uint64
	ev  hint.StreamEvent
	end bool
}

var errStreamEnded = errors.New("hint stream ended without a result")

func (p *Pipeline) start(ctx context.Context) error {
	const op = "Pipeline.Start"
	switch p.state {
	case StateStarting, StateRunning, StateStopping:
		return utils.E(utils.CodeConflict, op, "pipeline already "+p.state.String(), nil)
	}
	if p.session != nil {
		// a session that ended in error was never stopped
		p.teardown(ctx, models.SessionFailed)
	}

	p.setState(StateStarting, "")
	conn, err := p.cfg.Dialer.Dial(ctx)
	if err != nil {
		p.log.WithError(err).Warn("transcription channel dial failed")
		p.setState(StateError, err.Error())
		return utils.E(utils.CodeUnavailable, op, "transcription channel unavailable", err)
	}

	p.conn = conn
	p.msgs = conn.Messages()
	p.setAudio(conn)
	p.session = &models.Session{
		SessionID: uuid.NewString(),
		Status:    models.SessionActive,
		StartedAt: time.Now().UTC(),
	}
	p.buf.Clear()
	p.hist.Clear()
	p.gate.Forget()

	p.log.WithField("session_id", p.session.SessionID).Info("pipeline session started")
	p.setState(StateRunning, "")
	return nil
}

func (p *Pipeline) stop(ctx context.Context) {
	if p.state == StateIdle && p.session == nil {
		return
	}
	status := models.SessionEnded
	if p.state == StateError {
		status = models.SessionFailed
	}
	p.setState(StateStopping, "")
	p.teardown(ctx, status)
	p.setState(StateIdle, "")
}

// teardown cancels in-flight work, closes the channel and persists the session.
func (p *Pipeline) teardown(ctx context.Context, status string) {
	p.endFlight()
	p.gate.Reset()
	p.stopDebounce()
	p.closeConn()

	if p.session != nil {
		s := p.session
		ended := time.Now().UTC()
		s.Status = status
		s.EndedAt = &ended
		s.DurationSeconds = int64(ended.Sub(s.StartedAt).Seconds())
		s.Transcript = p.buf.Snapshot()
		s.Hints = p.hist.Records()
		p.session = nil

		log := p.log.WithFields(logrus.Fields{
			"session_id": s.SessionID,
			"status":     status,
			"hints":      len(s.Hints),
		})
		if p.cfg.Recorder != nil {
			if err := p.cfg.Recorder.Save(ctx, s); err != nil {
				log.WithError(err).Error("session save failed")
			}
		}
		log.Info("pipeline session ended")
	}
	p.buf.Clear()
}

func (p *Pipeline) closeConn() {
	p.setAudio(nil)
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.msgs = nil
}

func (p *Pipeline) onDisconnect() {
	msg := "transcription channel closed"
	if p.conn != nil {
		if err := p.conn.Err(); err != nil {
			msg = err.Error()
		}
	}
	p.log.WithField("error", msg).Warn("transcription channel lost")

	p.endFlight()
	p.gate.Reset()
	p.stopDebounce()
	p.closeConn()
	p.setState(StateError, msg)
}

func (p *Pipeline) onMessage(m stt.Message) {
	switch m.Kind {
	case stt.KindTranscript:
		if p.state != StateRunning {
			return
		}
		frag := m.Fragment()
		p.buf.Append(frag)
		p.emit(events.Event{Type: events.TranscriptAppended, Fragment: &frag})
		if p.auto {
			p.scheduleAuto()
		}
	case stt.KindStatus:
		p.log.WithField("status", m.Status).Debug("transcription status")
	case stt.KindError:
		p.log.WithField("error", m.Error).Warn("transcription service reported error")
	}
}

func (p *Pipeline) scheduleAuto() {
	d := p.cfg.AutoHintDebounce
	if d <= 0 {
		p.autoAttempt()
		return
	}
	if p.debounce == nil {
		p.debounce = time.NewTimer(d)
	} else {
		p.debounce.Reset(d)
	}
	p.debounceC = p.debounce.C
}

func (p *Pipeline) stopDebounce() {
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounceC = nil
}

func (p *Pipeline) autoAttempt() {
	if p.state != StateRunning || !p.auto {
		return
	}
	if res := p.attempt("auto"); res != AskStarted {
		p.log.WithField("result", res.String()).Debug("auto hint skipped")
	}
}

// attempt builds the context window, passes it through the gate and, when
// granted, issues the request.
func (p *Pipeline) attempt(trigger string) AskResult {
	snapshot := p.buf.Snapshot()
	lines := p.builder.Build(snapshot, p.window, p.maxChars)

	lease, outcome := p.gate.TryAcquire(lines)
	switch outcome {
	case gate.DeniedBusy:
		return AskBusy
	case gate.DeniedDuplicate:
		return AskNothingNew
	}

	req := models.HintRequest{
		Context:      lines,
		SystemPrompt: p.cfg.SystemPrompt,
		Profile:      p.cfg.Profile,
		UserContext:  p.cfg.UserContext,
		Sampling:     p.cfg.Sampling,
		Model:        p.cfg.Model,
	}
	if last, ok := p.buf.Last(); ok {
		req.Prompt = last.Text
	}

	p.seq++
	ctx, cancel := context.WithCancel(p.ctx)
	p.flight = &flight{seq: p.seq, lease: lease, cancel: cancel}

	p.log.WithFields(logrus.Fields{
		"request_seq":   p.seq,
		"trigger":       trigger,
		"context_lines": len(lines),
	}).Debug("hint request issued")

	go p.consume(p.seq, p.cfg.Streamer.Stream(ctx, req))
	return AskStarted
}

// consume relays one stream to the loop. The deferred end message is what
// releases the gate when a stream closes without a terminal event.
func (p *Pipeline) consume(seq uint64, ch <-chan hint.StreamEvent) {
	defer p.post(streamMsg{seq: seq, end: true})
	for ev := range ch {
		if !p.post(streamMsg{seq: seq, ev: ev}) {
			return
		}
	}
}

func (p *Pipeline) post(m streamMsg) bool {
	select {
	case p.streamC <- m:
		return true
	case <-p.closed:
		return false
	}
}

func (p *Pipeline) onStream(m streamMsg) {
	if p.flight == nil || m.seq != p.flight.seq {
		return
	}
	if m.end {
		p.log.WithField("request_seq", m.seq).Warn("hint stream closed without a result")
		p.emit(events.Event{
			Type:       events.HintFailed,
			RequestSeq: m.seq,
			Reason:     string(hint.ReasonMalformedStream),
			Error:      errStreamEnded.Error(),
		})
		p.endFlight()
		return
	}

	ev := m.ev
	switch ev.Kind {
	case hint.EventStarted:
		p.emit(events.Event{Type: events.HintStarted, RequestSeq: m.seq})
	case hint.EventChunk:
		p.emit(events.Event{Type: events.HintChunk, RequestSeq: m.seq, Text: ev.Text})
	case hint.EventCompleted:
		latency := ev.LatencyMS
		rec := models.HintRecord{
			ID:           uuid.NewString(),
			Text:         ev.Text,
			Timestamp:    time.Now().UTC(),
			LatencyMS:    &latency,
			TTFTMS:       ev.TTFTMS,
			Cached:       ev.Cached,
			QuestionType: ev.QuestionType,
		}
		p.hist.Append(rec)
		pos := p.hist.Position()
		p.emit(events.Event{
			Type:       events.HintCompleted,
			RequestSeq: m.seq,
			Text:       rec.Text,
			Hint:       &rec,
			Index:      pos.Index,
			Total:      pos.Total,
		})
		p.endFlight()
	case hint.EventFailed:
		out := events.Event{Type: events.HintFailed, RequestSeq: m.seq}
		if f := ev.Failure; f != nil {
			out.Reason = string(f.Reason)
			out.Status = f.Status
			out.Error = f.Error()
		}
		p.log.WithFields(logrus.Fields{
			"request_seq": m.seq,
			"reason":      out.Reason,
		}).Warn("hint request failed")
		p.emit(out)
		p.endFlight()
	}
}

// endFlight releases the gate and cancels the request. Events still queued
// for it are dropped as stale.
func (p *Pipeline) endFlight() {
	if p.flight == nil {
		return
	}
	p.flight.lease.Release()
	p.flight.cancel()
	p.flight = nil
}

func (p *Pipeline) setState(s State, errText string) {
	if p.state == s && p.lastErr == errText {
		return
	}
	p.state = s
	p.lastErr = errText
	p.emit(events.Event{Type: events.StateChanged, State: s.String(), Error: errText})
}

func (p *Pipeline) emit(ev events.Event) {
	ev.Time = time.Now().UTC()
	if p.session != nil {
		ev.SessionID = p.session.SessionID
	}
	p.sink.Emit(ev)
}
