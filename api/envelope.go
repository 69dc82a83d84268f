package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/fault"
)

// Envelope is the uniform non-stream response body. Code is the
// business code, which is independent of the transport status.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.WithField("err", err).Warn("failed to write response envelope")
	}
}

// writeData writes a success envelope carrying |data|.
func writeData(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, Envelope{Code: 200, Message: "success", Data: data})
}

// writeMessage writes a data-less success envelope.
func writeMessage(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusOK, Envelope{Code: 200, Message: message})
}

// writeError maps |err| onto its transport status and envelope.
// Internal faults are logged with their cause; the envelope carries an
// opaque message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var f = fault.As(err)
	if f.Kind == fault.KindInternal {
		log.WithFields(log.Fields{
			"err":    err,
			"url":    r.URL.String(),
			"client": r.RemoteAddr,
		}).Error("request failed")
	}
	writeEnvelope(w, f.Status(), Envelope{Code: f.Code, Message: f.Message})
}

// decodeJSON parses and validates the request body into |req|, which
// must be a pointer to a tagged struct.
func (s *Server) decodeJSON(r *http.Request, req interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return fault.Validation(fmt.Sprintf("malformed request body: %v", err))
	}
	if err := s.validate.Struct(req); err != nil {
		return fault.Validation(err.Error())
	}
	return nil
}
