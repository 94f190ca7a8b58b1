package main

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the gateway sits behind the surrounding
// application, which owns browser-facing origin policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleTunnel upgrades the request and hands the stream to the
// dispatcher. The request context carries the server's run context, so
// shutdown reaches live sessions as cancellation.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	s.dispatcher.HandleConn(r.Context(), newWSStream(conn))
}
