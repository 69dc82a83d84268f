package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/fault"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST surface enforces origins through CORS; sockets
	// authenticate by token instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

const socketWriteTimeout = 10 * time.Second

// serveSocket upgrades the request, authenticates the peer by its query
// token, registers it, and runs the read loop until the peer hangs up.
// Authentication happens after the upgrade so failures surface as a
// close frame the client can inspect, not an opaque HTTP error.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	var clientID = mux.Vars(r)["client_id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the peer.
		log.WithFields(log.Fields{"client": clientID, "err": err}).Warn("socket upgrade failed")
		return
	}

	if _, err = s.tokens.Verify(r.URL.Query().Get("token")); err != nil {
		var code = websocket.CloseInternalServerErr
		if fault.IsKind(err, fault.KindUnauthorized) {
			code = websocket.ClosePolicyViolation
		}
		log.WithFields(log.Fields{"client": clientID, "err": err}).
			Info("rejecting unauthenticated socket")
		closeSocket(conn, clientID, code, "authentication failed")
		return
	}

	s.registry.Register(clientID, conn)
	defer func() {
		s.registry.Unregister(clientID, conn)
		s.registry.Broadcast([]byte(fmt.Sprintf("client %s left", clientID)))
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.WithFields(log.Fields{"client": clientID, "err": err}).Debug("socket read loop ended")
			closeSocket(conn, clientID, websocket.CloseNormalClosure, "bye")
			return
		}
		// Echo through the registry so this write serializes with any
		// concurrent directed send to the same peer.
		s.registry.SendTo(clientID, []byte("you sent: "+string(message)))
	}
}

// closeSocket performs the close handshake and tears the connection
// down. Write failures are expected when the peer is already gone.
func closeSocket(conn *websocket.Conn, clientID string, code int, reason string) {
	var frame = websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(socketWriteTimeout)); err != nil {
		log.WithFields(log.Fields{"client": clientID, "err": err}).Debug("failed to write close frame")
	}
	if err := conn.Close(); err != nil {
		log.WithFields(log.Fields{"client": clientID, "err": err}).Debug("failed to close socket")
	}
}

type socketSendRequest struct {
	Message string `json:"message" validate:"required"`
}

// serveSocketSend pushes a message to one connected peer. Absent or
// dead peers answer with a 404-coded envelope rather than queueing.
func (s *Server) serveSocketSend(w http.ResponseWriter, r *http.Request) {
	var clientID = mux.Vars(r)["client_id"]

	var req socketSendRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if !s.registry.SendTo(clientID, []byte(req.Message)) {
		writeEnvelope(w, http.StatusNotFound, Envelope{
			Code:    http.StatusNotFound,
			Message: "client is not connected",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message":   "Message sent",
		"client_id": clientID,
	})
}
