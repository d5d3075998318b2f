package server

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"mime"
	"net/http"

	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/scheduler"
	"github.com/nvr-ai/live-detect/studio"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusCode maps domain errors onto HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, inference.ErrNotReady),
		errors.Is(err, inference.ErrLoadFailed),
		errors.Is(err, inference.ErrClosed),
		errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrModelNotReady),
		errors.Is(err, capture.ErrNothingRendered):
		return http.StatusConflict
	case errors.Is(err, images.ErrEmptyImage),
		errors.Is(err, images.ErrUnsupportedFormat),
		errors.Is(err, images.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrNoExporter):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.Status())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	run, err := s.studio.Toggle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]studio.RunState{"run": run})
}

// handleUpload accepts the image either as multipart field "file" or as the
// raw request body.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	data, err := readUpload(r, s.opts.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "image too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	report, err := s.studio.Upload(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func readUpload(r *http.Request, limit int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, errors.Wrap(err, "could not parse multipart form")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("image file is required")
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.studio.Frame()
	if !ok {
		s.writeError(w, r, capture.ErrNothingRendered)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		s.writeError(w, r, errors.Wrap(err, "failed to encode frame"))
		return
	}
	w.Header().Set("Content-Type", images.FormatPNG.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	entry, err := s.studio.Capture(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, studio.CaptureInfo{
		Position:   0,
		Index:      entry.Index,
		CapturedAt: entry.CapturedAt,
		FileName:   entry.FileName(),
		Width:      entry.Image.Width,
		Height:     entry.Image.Height,
		Bytes:      len(entry.Image.Data),
	})
}

func (s *Server) handleListCaptures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.CaptureInfos())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	position, err := positionParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid capture index"})
		return
	}

	entry, err := s.studio.Download(position)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", entry.Image.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.FileName()))
	_, _ = w.Write(entry.Image.Data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	position, err := positionParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid capture index"})
		return
	}

	entry, err := s.studio.Export(r.Context(), position)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exported": 1, "file_name": entry.FileName()})
}

func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.studio.ExportAll(r.Context())
	if err != nil {
		s.logger.Warnw("export interrupted", "exported", n, "error", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"exported": n})
}
