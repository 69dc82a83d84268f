package api

import (
	"fmt"
	"net/http"

	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/recommend"
)

type recommendRequest struct {
	TopN int `json:"top_n" validate:"omitempty,min=1,max=50"`
	// ExcludeInteracted defaults to true when omitted.
	ExcludeInteracted *bool `json:"exclude_interacted"`
}

type recommendResponse struct {
	UserID          int64                      `json:"user_id"`
	Total           int                        `json:"total"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
}

func (s *Server) serveCourseRecommend(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req recommendRequest
	if err = s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TopN == 0 {
		req.TopN = 10
	}
	var exclude = req.ExcludeInteracted == nil || *req.ExcludeInteracted

	recs, err := s.recommend.Recommend(r.Context(), userID, req.TopN, exclude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	writeData(w, recommendResponse{
		UserID:          userID,
		Total:           len(recs),
		Recommendations: recs,
	})
}

func (s *Server) serveRecordBehavior(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req behavior.Request
	if err = s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.ActionType.Valid() {
		writeError(w, r, fault.Validation(fmt.Sprintf("unknown action type %q", req.ActionType)))
		return
	}

	if !s.recorder.Record(r.Context(), userID, req, behavior.MetaFromRequest(r)) {
		writeError(w, r, fault.Business(400, "behavior record failed"))
		return
	}
	writeMessage(w, "behavior recorded")
}
