package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin returns true: both servers bind to localhost and serve a
// single operator station.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request, registers the client and blocks in a read loop
// until the peer disconnects. Inbound frames are discarded; both channels
// are push-only.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := h.Add(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Remove(client)
			return
		}
	}
}
