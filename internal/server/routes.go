// Package server wires HTTP handlers into a ServeMux for the duochat
// application via routing helpers.
package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.IndexHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.HandleFunc("GET /test", TestPageHandler)

	mux.HandleFunc("GET /rooms", s.ListRoomsHandler)
	mux.HandleFunc("POST /create-room", s.CreateRoomHandler)
	mux.HandleFunc("POST /join-room-by-id", s.JoinRoomByIDHandler)
	mux.HandleFunc("GET /room/{handle}", s.RoomHandler)
	mux.HandleFunc("GET /room/{handle}/users", s.ConnectedUsersHandler)

	mux.HandleFunc("GET /ws/{handle}", s.WebSocketHandler)
	return mux
}
