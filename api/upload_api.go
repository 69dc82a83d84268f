package api

import (
	"net/http"

	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/objstore"
)

type uploadSignRequest struct {
	Filename string `json:"filename" validate:"required"`
}

type uploadSignResponse struct {
	UploadURL  string `json:"upload_url"`
	Bucket     string `json:"bucket"`
	ObjectName string `json:"object_name"`
	ExpiresIn  int    `json:"expires_in"`
}

// serveUploadSign mints a presigned PUT URL so clients upload directly
// to object storage instead of proxying bytes through this server.
func (s *Server) serveUploadSign(w http.ResponseWriter, r *http.Request) {
	if _, err := requireUser(r); err != nil {
		writeError(w, r, err)
		return
	}
	if s.uploads == nil {
		writeError(w, r, fault.Business(400, "uploads are not enabled"))
		return
	}

	var req uploadSignRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var objectName = objstore.ObjectName(req.Filename)
	url, err := s.uploads.PresignedPut(r.Context(), objectName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, uploadSignResponse{
		UploadURL:  url,
		Bucket:     s.uploads.Bucket(),
		ObjectName: objectName,
		ExpiresIn:  int(s.uploads.Expiry().Seconds()),
	})
}
