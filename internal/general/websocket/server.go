package websocket

import (
	"net/http"
	"time"

	"location-hub/internal/general/logger"
	"location-hub/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server exposes the hub over a WebSocket endpoint plus the read-only
// status surface. One goroutine per connection processes inbound frames
// sequentially; connections are serviced concurrently.
type Server struct {
	router   *hub.Router
	registry *hub.Registry
	logger   *logger.Logger
}

func NewServer(router *hub.Router, registry *hub.Registry, logger *logger.Logger) *Server {
	return &Server{
		router:   router,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes wires the hub endpoints onto the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleConnect)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// handleConnect upgrades the request and runs the connection's read loop.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}

	conn := newClientConn(raw)
	defer conn.Close()

	// one correlation id per connection for all of its log lines
	ctx := s.logger.WithRequestID(r.Context(), uuid.NewString())

	s.logger.Info(ctx, "ws_connected", "Client WebSocket connected", map[string]any{
		"remote": raw.RemoteAddr().String(),
	})

	raw.SetReadLimit(1 << 20) // 1 MiB
	_ = raw.SetReadDeadline(time.Now().Add(readWindow))
	raw.SetPongHandler(func(_ string) error {
		return raw.SetReadDeadline(time.Now().Add(readWindow))
	})

	// ping loop; a failed ping closes the socket to unblock the reader
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					s.logger.Error(ctx, "ws_ping_failed", "Failed to send ping", err, nil)
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Cleanup must run exactly once whether the loop ends by close or by
	// error; the registry removal itself is idempotent.
	defer s.router.ConnectionClosed(ctx, conn)

	for {
		_ = raw.SetReadDeadline(time.Now().Add(readWindow))
		msgType, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error(ctx, "ws_unexpected_close", "Connection closed unexpectedly", err, nil)
				conn.writeClose(websocket.CloseInternalServerErr, "internal error")
			} else {
				s.logger.Info(ctx, "ws_connection_closed", "Connection closed", nil)
				conn.writeClose(websocket.CloseNormalClosure, "bye")
			}
			return
		}

		if msgType != websocket.TextMessage {
			s.router.RejectUnsupported(ctx, conn)
			continue
		}

		s.router.Handle(ctx, conn, payload)
	}
}
