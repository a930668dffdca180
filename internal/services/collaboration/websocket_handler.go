package collaboration

import (
	"context"
	"log"
	"net/http"

	"canvas-relay/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Session codes are the only access control.
		return true
	},
}

// WebSocketHandler upgrades HTTP requests and starts a client actor.
// Joining a room happens in-band with a join frame.
type WebSocketHandler struct {
	gateway    *Gateway
	dispatcher *Dispatcher
	config     ClientConfig
}

func NewWebSocketHandler(gateway *Gateway, dispatcher *Dispatcher, config ClientConfig) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:    gateway,
		dispatcher: dispatcher,
		config:     config,
	}
}

// SnapshotReadLimit is the transport read limit for a given snapshot cap.
// It sits well above the cap so an oversized snapshot is answered with an
// error frame instead of a dropped connection.
func SnapshotReadLimit(maxSnapshotBytes int) int64 {
	return int64(maxSnapshotBytes)*2 + 64*1024
}

// HandleConnection serves GET /ws
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("remote.addr", r.RemoteAddr),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	var client *Client
	record := h.gateway.Connect(r.RemoteAddr, func(id string) Peer {
		client = NewClient(id, conn, h.gateway, h.dispatcher, h.config)
		return client
	})
	span.SetAttributes(attribute.String("connection.id", record.ID))

	// The pumps outlive this request.
	pumpCtx := context.WithoutCancel(ctx)
	go client.WritePump()
	go client.ReadPump(pumpCtx)
}
