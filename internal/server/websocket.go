package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/algoprep/internal/practice"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser access
	},
}

// wsError is sent when a command fails.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(s *Server, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket marshal error")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write error")
	}
}

// handleWebSocket carries commands in and session events out. Runs are
// started on their own goroutine so a cancel can arrive while one is going.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	sess, err := s.sessions.GetOrCreate(r.Context(), desc)
	if err != nil {
		http.Error(w, "opening session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	unsubscribe := sess.Subscribe(func(ev practice.Event) { c.send(s, ev) })
	defer unsubscribe()

	snap := sess.Snapshot()
	c.send(s, practice.Event{Kind: practice.EventState, State: &snap})

	ctx, cancel := context.WithCancel(context.Background())
	var runs sync.WaitGroup
	defer func() {
		// A closed connection stops its run.
		cancel()
		runs.Wait()
	}()

	// The engine may be busy with another task, so loading must not hold up
	// the read loop.
	runs.Add(1)
	go func() {
		defer runs.Done()
		if err := sess.Prepare(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("task", desc.Slug).Msg("interpreter unavailable")
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		cmd, err := practice.DecodeCommand(data)
		if err != nil {
			c.send(s, wsError{Type: "error", Error: err.Error()})
			continue
		}

		if _, isRun := cmd.(practice.RunRequested); isRun {
			runs.Add(1)
			go func() {
				defer runs.Done()
				if err := sess.Dispatch(ctx, cmd); err != nil && !errors.Is(err, context.Canceled) {
					c.send(s, wsError{Type: "error", Error: err.Error()})
				}
			}()
			continue
		}
		if err := sess.Dispatch(ctx, cmd); err != nil {
			c.send(s, wsError{Type: "error", Error: err.Error()})
		}
	}
}
