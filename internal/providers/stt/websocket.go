package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/models"
)

const (
	readWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

const (
	tagPrimary   byte = 0
	tagSecondary byte = 1
)

var ErrClosed = errors.New("transcription channel closed")

type WSDialer struct {
	URL        string
	APIKey     string
	SampleRate int
	Encoding   string
	Logger     *logrus.Logger

	Dialer *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stt url: %w", err)
	}
	q := u.Query()
	if d.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(d.SampleRate))
	}
	if d.Encoding != "" {
		q.Set("encoding", d.Encoding)
	}
	u.RawQuery = q.Encode()

	h := http.Header{}
	if d.APIKey != "" {
		h.Set("Authorization", "Bearer "+d.APIKey)
	}

	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	c, resp, err := wd.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stt: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial stt: %w", err)
	}

	l := d.Logger
	if l == nil {
		l = logrus.New()
	}
	wc := &wsConn{
		c:    c,
		msgs: make(chan Message, 64),
		done: make(chan struct{}),
		log:  l.WithField("component", "stt"),
	}
	go wc.readLoop()
	go wc.pingLoop()
	return wc, nil
}

type wsConn struct {
	c    *websocket.Conn
	mu   sync.Mutex // serialises writes
	msgs chan Message
	log  *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

type inbound struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	Source    string   `json:"source"`
	LatencyMS *float64 `json:"latency_ms"`
	Status    string   `json:"status"`
	Error     string   `json:"error"`
	Message   string   `json:"message"`
}

func (w *wsConn) Messages() <-chan Message { return w.msgs }

func (w *wsConn) SendAudio(source models.Source, frame []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	tag := tagPrimary
	if source == models.SourceSecondary {
		tag = tagSecondary
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, tag)
	buf = append(buf, frame...)
	return w.write(websocket.BinaryMessage, buf)
}

func (w *wsConn) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.c.Close()
	})
	return err
}

func (w *wsConn) write(kind int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(kind, b)
}

func (w *wsConn) readLoop() {
	defer close(w.msgs)

	_ = w.c.SetReadDeadline(time.Now().Add(readWait))
	w.c.SetPongHandler(func(string) error {
		return w.c.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		kind, data, err := w.c.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.setErr(err)
				w.log.WithError(err).Warn("transcription channel lost")
				w.closeOnce.Do(func() {
					close(w.done)
					_ = w.c.Close()
				})
			}
			return
		}
		_ = w.c.SetReadDeadline(time.Now().Add(readWait))
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := decode(data)
		if err != nil {
			w.log.WithError(err).Warn("dropping transcription message")
			continue
		}
		select {
		case w.msgs <- msg:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) pingLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.mu.Lock()
			err := w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *wsConn) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func decode(data []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Message{}, fmt.Errorf("invalid json: %w", err)
	}
	switch Kind(strings.ToLower(in.Type)) {
	case KindTranscript:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return Message{}, errors.New("empty transcript")
		}
		m := Message{
			Kind:     KindTranscript,
			Text:     text,
			Source:   models.ParseSource(in.Source),
			Received: time.Now(),
		}
		if in.LatencyMS != nil {
			ms := int64(*in.LatencyMS)
			m.LatencyMS = &ms
		}
		return m, nil
	case KindStatus:
		return Message{Kind: KindStatus, Status: in.Status}, nil
	case KindError:
		e := in.Error
		if e == "" {
			e = in.Message
		}
		return Message{Kind: KindError, Error: e}, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", in.Type)
	}
}
