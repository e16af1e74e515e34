package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/events"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/pipeline"
	"github.com/yoockh/hintline/internal/utils"
)

const (
	wsReadWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsWriteWait  = 10 * time.Second
)

type WSHandler struct {
	p        Controller
	hub      *events.Hub
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(p Controller, hub *events.Hub, l *logrus.Logger) *WSHandler {
	if l == nil {
		l = logrus.New()
	}
	return &WSHandler{
		p:   p,
		hub: hub,
		log: l,
		upgrader: websocket.Upgrader{
			// the overlay UI is served from a local origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type wsClientMsg struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	AudioBase64 string `json:"audio_base64"`
}

type wsServerMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Result  string `json:"result,omitempty"`

	View *pipeline.HintView `json:"view,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (w *wsConn) fail(code utils.Code, msg string) {
	_ = w.writeJSON(wsServerMsg{Type: "error", Code: string(code), Message: msg})
}

func (w *wsConn) failErr(err error) {
	msg := err.Error()
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	w.fail(utils.CodeOf(err), msg)
}

// Events streams every pipeline event to the client as JSON. The client may
// send {"type":"ask"}, {"type":"prev"}, {"type":"next"} and audio frames as
// {"type":"audio","source":"mic","audio_base64":"..."}.
func (h *WSHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	reqID, _ := c.Get("request_id")
	log := h.log.WithField("request_id", reqID)

	wc := &wsConn{c: conn}
	sub := h.hub.Subscribe()
	defer sub.Close()

	// snapshot first so the client can render before the next event
	_ = wc.writeJSON(struct {
		Type   string `json:"type"`
		Status any    `json:"status"`
	}{Type: "status", Status: h.p.Status()})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(c, wc)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := wc.writeJSON(ev); err != nil {
				log.WithError(err).Debug("events websocket write failed")
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(c *gin.Context, wc *wsConn) {
	conn := wc.c
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.fail(utils.CodeInvalidArgument, "invalid json")
			continue
		}

		switch msg.Type {
		case "audio":
			raw := msg.AudioBase64
			if i := strings.Index(raw, ","); i >= 0 {
				raw = raw[i+1:]
			}
			frame, err := base64.StdEncoding.DecodeString(raw)
			if err != nil || len(frame) == 0 {
				wc.fail(utils.CodeInvalidArgument, "audio_base64 required")
				continue
			}
			if err := h.p.SendAudio(models.ParseSource(msg.Source), frame); err != nil {
				wc.failErr(err)
			}

		case "ask":
			res, err := h.p.AskNow(ctx)
			if err != nil {
				wc.failErr(err)
				continue
			}
			_ = wc.writeJSON(wsServerMsg{Type: "ask_result", Result: res.String()})

		case "prev", "next":
			move := h.p.PrevHint
			if msg.Type == "next" {
				move = h.p.NextHint
			}
			v, err := move(ctx)
			if err != nil {
				wc.failErr(err)
				continue
			}
			_ = wc.writeJSON(wsServerMsg{Type: "hint_view", View: &v})

		case "ping":
			_ = wc.writeJSON(wsServerMsg{Type: "pong"})

		default:
			wc.fail(utils.CodeInvalidArgument, "unknown message type")
		}
	}
}
