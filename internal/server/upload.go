package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/soundguard-ai/soundguard/internal/apperr"
)

// uploadFields are the multipart field names accepted for the audio file.
var uploadFields = map[string]bool{"audio": true, "file": true}

// handleUpload streams the audio part to a temp file and hands it to the
// ingester. Only the first file part is used.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.ingest.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, apperr.Validation("upload", "expected a multipart form: %v", err))
		return
	}

	var filename, tmpPath string
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, s.uploadReadError(err))
			return
		}
		if !uploadFields[part.FormName()] || part.FileName() == "" || tmpPath != "" {
			_ = part.Close()
			continue
		}

		filename, err = s.ingest.CheckName(part.FileName())
		if err != nil {
			_ = part.Close()
			writeError(w, r, err)
			return
		}

		tmp, err := os.CreateTemp("", "soundguard-upload-*"+filepath.Ext(filename))
		if err != nil {
			_ = part.Close()
			writeError(w, r, eris.Wrap(err, "upload: create temp file"))
			return
		}
		tmpPath = tmp.Name()
		size, err := io.Copy(tmp, io.LimitReader(part, maxBytes+1))
		cerr := tmp.Close()
		_ = part.Close()
		if err != nil {
			writeError(w, r, s.uploadReadError(err))
			return
		}
		if cerr != nil {
			writeError(w, r, eris.Wrap(cerr, "upload: write temp file"))
			return
		}
		if size > maxBytes {
			writeError(w, r, s.ingest.TooLarge())
			return
		}
	}

	if tmpPath == "" {
		writeError(w, r, apperr.Validation("upload", "no audio file in request"))
		return
	}

	summary, err := s.ingest.Ingest(r.Context(), filename, tmpPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "asset": summary})
}

func (s *Server) uploadReadError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return s.ingest.TooLarge()
	}
	return apperr.Validation("upload", "read upload: %v", err)
}
