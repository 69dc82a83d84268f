package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/llm"
)

type chatRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Question  string `json:"question" validate:"required"`
}

// serveChat streams a chat turn as server-sent events: one data frame
// per chunk, then either a clean end of stream or one error event.
func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req chatRequest
	if err = s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	events, err := s.chat.Chat(r.Context(), userID, req.SessionID, req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fault.Internal(fmt.Errorf("response writer does not support streaming")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if ev.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", ev.Err.Error())
			flusher.Flush()
			return
		}
		writeSSEData(w, ev.Chunk)
		flusher.Flush()
	}
}

// writeSSEData frames one chunk, splitting embedded newlines across
// data lines per the SSE grammar.
func writeSSEData(w http.ResponseWriter, chunk string) {
	for _, line := range strings.Split(chunk, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func (s *Server) serveCreateSession(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var session, errCreate = s.chat.CreateSession(r.Context(), userID)
	if errCreate != nil {
		writeError(w, r, errCreate)
		return
	}
	writeData(w, map[string]string{"session_id": session.SessionID})
}

func (s *Server) serveSessionList(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var sessions, errList = s.chat.Sessions(r.Context(), userID)
	if errList != nil {
		writeError(w, r, errList)
		return
	}
	writeData(w, sessions)
}

func (s *Server) serveSessionMessages(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var sessionID = r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, r, fault.Validation("session_id is required"))
		return
	}

	msgs, err := s.chat.Messages(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	writeData(w, msgs)
}
