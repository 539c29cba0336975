package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"huddle/internal/domain"
)

const wsWriteTimeout = 15 * time.Second

// wsEnvelope wraps every server frame on the chat socket.
type wsEnvelope struct {
	Type   string `json:"type"` // "event" | "error" | "rejected"
	Status int    `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// handleChatWS runs turns over one WebSocket. Each text message from the
// client is a turn request; turns on a connection run one at a time.
func (w *Web) handleChatWS(rw http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		OriginPatterns: w.originPatterns,
	})
	if err != nil {
		w.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxBodySize)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				w.logger.Debug("websocket read ended", "err", err)
			}
			return
		}

		var req domain.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if w.writeWS(ctx, ws, wsEnvelope{Type: "rejected", Status: http.StatusBadRequest, Data: domain.ErrorEvent{Error: "invalid request: " + err.Error()}}) != nil {
				return
			}
			continue
		}

		turn, status, err := w.accept(ctx, req, clientKey(r, req.SessionID))
		if err != nil {
			if w.writeWS(ctx, ws, wsEnvelope{Type: "rejected", Status: status, Data: domain.ErrorEvent{Error: err.Error()}}) != nil {
				return
			}
			continue
		}

		sink := &wsSink{ctx: ctx, web: w, conn: ws}
		if err := w.orchestrator.Run(ctx, turn, sink); err != nil {
			w.logger.Info("websocket turn ended early", "session", req.SessionID, "err", err)
			if sink.broken {
				return
			}
		}
	}
}

func (w *Web) writeWS(ctx context.Context, ws *websocket.Conn, env wsEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

// wsSink forwards orchestration frames to the socket.
type wsSink struct {
	ctx    context.Context
	web    *Web
	conn   *websocket.Conn
	broken bool
}

func (s *wsSink) Send(ev domain.ChatEvent) error {
	return s.write(wsEnvelope{Type: "event", Data: ev})
}

func (s *wsSink) Fail(message string) error {
	return s.write(wsEnvelope{Type: "error", Data: domain.ErrorEvent{Error: message}})
}

func (s *wsSink) write(env wsEnvelope) error {
	if err := s.web.writeWS(s.ctx, s.conn, env); err != nil {
		s.broken = true
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errors.Join(errClientGone, err)
	}
	return nil
}

var errClientGone = errors.New("client disconnected")
