// Package server exposes the HTTP surface: the room websocket, the room
// lookup API, ICE server provisioning and health.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gitlab.com/paintwithbuddy/services/backend/internal/db"
	"gitlab.com/paintwithbuddy/services/backend/internal/handlers"
	"gitlab.com/paintwithbuddy/services/backend/internal/room"
	"gitlab.com/paintwithbuddy/services/backend/internal/ws"
	iceHandlers "gitlab.com/paintwithbuddy/services/backend/pkg/handlers"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Config carries the transport settings the server needs
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	AllowOrigin     string
	Client          ws.Options
}

type Server struct {
	db         *db.DB
	rooms      *room.Registry
	messages   *handlers.MessageHandler
	iceHandler *iceHandlers.IceHandler
	upgrader   websocket.Upgrader
	cfg        Config
	log        *log.Logger
}

func New(database *db.DB, rooms *room.Registry, messages *handlers.MessageHandler, ice *iceHandlers.IceHandler, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default().WithPrefix("Server")
	}
	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = "*"
	}
	return &Server{
		db:         database,
		rooms:      rooms,
		messages:   messages,
		iceHandler: ice,
		cfg:        cfg,
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router builds the HTTP routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.corsMiddleware)

	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/room-exists/{code}", s.handleRoomExists).Methods("GET")
	router.HandleFunc("/api/ice-servers", s.iceHandler.GetIceServers).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	return router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := map[string]interface{}{
		"status": "ok",
		"rooms":  s.rooms.Len(),
	}
	if err := s.db.Health(ctx); err != nil {
		resp["redis"] = "unavailable"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoomExists(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	writeJSON(w, http.StatusOK, models.RoomExistsResponse{Exists: s.rooms.Exists(code)})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade to WebSocket", "err", err)
		return
	}

	client := ws.NewClient(conn, s.cfg.Client)
	s.messages.Connect(client.ID, client)

	go client.WritePump()
	go client.ReadPump(s.messages)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
