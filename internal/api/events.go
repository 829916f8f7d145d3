package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/petervdpas/goopcall/internal/call"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamMessage is one frame on the event WebSocket.
type StreamMessage struct {
	Kind  string      `json:"kind"`
	Event *call.Event `json:"event,omitempty"`
	Log   *LogEntry   `json:"log,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Non-browser clients send no Origin.
			if r.Header.Get("Origin") == "" {
				return true
			}
			return s.cors.OriginAllowed(r)
		},
	}
}

// events streams call events and, with ?logs=1, log lines.
//
//	@Summary	WebSocket stream of call events
//	@Description	Upgrade to a WebSocket. Each text frame is a StreamMessage of kind event or log.
//	@Tags		events
//	@Security	BearerAuth
//	@Param		logs			query	bool	false	"Also follow log lines"
//	@Param		access_token	query	string	false	"JWT for clients that cannot set headers"
//	@Success	101	{object}	StreamMessage
//	@Router		/api/events [get]
func (s *Server) events(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("API: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	callEvents, cancelCalls := s.opts.Calls.Subscribe()
	defer cancelCalls()

	var logLines <-chan LogEntry
	if s.opts.Logs != nil && c.Query("logs") == "1" {
		ch, cancelLogs := s.opts.Logs.Subscribe()
		defer cancelLogs()
		logLines = ch
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg StreamMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-callEvents:
			if !ok {
				return
			}
			if !write(StreamMessage{Kind: "call", Event: &ev}) {
				return
			}
		case line, ok := <-logLines:
			if !ok {
				return
			}
			if !write(StreamMessage{Kind: "log", Log: &line}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
