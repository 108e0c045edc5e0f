// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package admin exposes a small HTTP interface for inspecting a running
// node: a JSON status endpoint and a WebSocket stream of peer events.
package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/netaddr"
	"github.com/yhzhang0128/salticidae/peernet"
)

// Status is the answer of the status endpoint.
type Status struct {
	NConn    int `json:"nconn"`
	NPending int `json:"npending"`
}

// PeerEvent is one entry of the event stream.
type PeerEvent struct {
	Addr      string    `json:"addr"`
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// Server is an http.Handler serving the admin interface for one
// PeerNetwork.
type Server struct {
	router   *mux.Router
	pn       *peernet.PeerNetwork
	upgrader websocket.Upgrader

	// clients holds the active event stream connections.
	clientsLock sync.Mutex
	clients     map[*websocket.Conn]struct{}
}

// NewServer creates a Server for the given PeerNetwork. NotifyPeer must be
// wired into the network's peer handler by the embedder.
func NewServer(pn *peernet.PeerNetwork) (s *Server) {
	s = &Server{
		router:  mux.NewRouter(),
		pn:      pn,
		clients: make(map[*websocket.Conn]struct{}),
	}

	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return s
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		NConn:    s.pn.Pool().NConn(),
		NPending: s.pn.GetNPending(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.WithError(err).Warn("Admin: writing status failed")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Admin: websocket upgrade failed")
		return
	}

	s.clientsLock.Lock()
	s.clients[conn] = struct{}{}
	s.clientsLock.Unlock()

	// Reads are only needed to notice the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
}

// NotifyPeer fans a peer event out to every event stream client. Intended
// to be called from the PeerNetwork's peer handler.
func (s *Server) NotifyPeer(addr netaddr.NetAddr, connected bool) {
	event := PeerEvent{
		Addr:      addr.String(),
		Connected: connected,
		Timestamp: time.Now(),
	}

	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			delete(s.clients, client)
			client.Close()
		}
	}
}

// Close drops all event stream clients.
func (s *Server) Close() {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}
