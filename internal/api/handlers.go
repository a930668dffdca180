package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"

	"canvas-relay/internal/middleware"
	"canvas-relay/internal/models"
	"canvas-relay/internal/services"
	"canvas-relay/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler serves the REST surface next to the WebSocket endpoint
type Handler struct {
	rooms     RoomDirectory
	presence  PresenceView
	conns     ConnectionCounter
	wsHandler *collaboration.WebSocketHandler
	journal   ActivityJournal  // nil when no database is configured
	diagrams  DiagramGenerator // nil without an OpenAI key
}

func NewHandler(
	rooms RoomDirectory,
	presence PresenceView,
	conns ConnectionCounter,
	wsHandler *collaboration.WebSocketHandler,
) *Handler {
	return &Handler{
		rooms:     rooms,
		presence:  presence,
		conns:     conns,
		wsHandler: wsHandler,
	}
}

// SetJournal enables the activity endpoint
func (h *Handler) SetJournal(journal ActivityJournal) {
	h.journal = journal
}

// SetDiagramGenerator enables diagram generation
func (h *Handler) SetDiagramGenerator(diagrams DiagramGenerator) {
	h.diagrams = diagrams
}

type roomSummary struct {
	Code    string `json:"code"`
	Members int    `json:"members"`
}

type roomDetail struct {
	Code    string              `json:"code"`
	Members []models.RoomMember `json:"members"`
}

type journalStats struct {
	Enabled     bool   `json:"enabled"`
	QueueLength int    `json:"queue_length"`
	Dropped     uint64 `json:"dropped"`
}

type statsResponse struct {
	Rooms       int                         `json:"rooms"`
	Connections int                         `json:"connections"`
	Outbound    collaboration.OutboundStats `json:"outbound"`
	Journal     journalStats                `json:"journal"`
}

type generateDiagramRequest struct {
	Description string `json:"description"`
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Rooms:       len(h.rooms.ActiveRooms()),
		Connections: h.conns.Count(),
		Outbound:    h.conns.Outbound(),
	}
	if h.journal != nil {
		resp.Journal = journalStats{
			Enabled:     true,
			QueueLength: h.journal.GetQueueLength(),
			Dropped:     h.journal.Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	active := h.rooms.ActiveRooms()

	rooms := make([]roomSummary, 0, len(active))
	for code, members := range active {
		rooms = append(rooms, roomSummary{Code: code, Members: members})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if _, ok := h.rooms.Lookup(code); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, roomDetail{
		Code:    code,
		Members: h.rooms.Members(code),
	})
}

func (h *Handler) GetRoomPresence(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if _, ok := h.rooms.Lookup(code); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	entries := h.presence.Snapshot(code)
	if entries == nil {
		entries = []models.PresenceEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":    code,
		"entries": entries,
	})
}

func (h *Handler) GetRoomActivity(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "Activity journal is disabled", http.StatusNotFound)
		return
	}

	code := mux.Vars(r)["code"]

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	activities, err := h.journal.List(r.Context(), code, limit)
	if err != nil {
		log.Printf("[%s] Failed to list activity for room %s: %v", middleware.GetRequestID(r.Context()), code, err)
		middleware.AddSpanError(r.Context(), err)
		http.Error(w, "Failed to load activity", http.StatusInternalServerError)
		return
	}
	if activities == nil {
		activities = []*models.RoomActivity{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":       code,
		"activities": activities,
		"limit":      limit,
	})
}

func (h *Handler) GenerateDiagram(w http.ResponseWriter, r *http.Request) {
	if h.diagrams == nil {
		http.Error(w, "Diagram generation is not configured", http.StatusServiceUnavailable)
		return
	}

	var req generateDiagramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	diagram, err := h.diagrams.Generate(r.Context(), req.Description)
	if err != nil {
		if errors.Is(err, services.ErrDescriptionRequired) || errors.Is(err, services.ErrDescriptionTooLong) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[%s] Error generating diagram: %v", middleware.GetRequestID(r.Context()), err)
		http.Error(w, "Error generating diagram", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, diagram)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
