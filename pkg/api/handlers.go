package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"
)

const (
	HeaderClientID = "X-Client-Id"

	defaultTimeoutSeconds = 300
	multipartMemory       = 32 << 20
)

func (s *Server) handleHealth(d *Data, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// handleUpload accepts a multipart upload. Uploads run asynchronously unless
// mode=sync is given.
func (s *Server) handleUpload(d *Data, w http.ResponseWriter) {
	r := d.Req
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorBody(w, d, http.StatusRequestEntityTooLarge, upload.ErrCodePayloadTooLarge.String(),
				"request body exceeds maximum allowed size")
			return
		}
		writeErrorBody(w, d, http.StatusBadRequest, upload.ErrCodeValidation.String(), "invalid multipart form: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	clientID, ok := s.clientID(d, w, r.FormValue("clientId"))
	if !ok {
		return
	}

	timeout := defaultTimeoutSeconds
	if raw := r.FormValue("timeoutSeconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorBody(w, d, http.StatusBadRequest, upload.ErrCodeValidation.String(),
				"timeoutSeconds must be a positive integer")
			return
		}
		timeout = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorBody(w, d, http.StatusBadRequest, upload.ErrCodeValidation.String(), "file is required")
		return
	}
	defer file.Close()

	req := &upload.SubmitRequest{
		ClientID:    clientID,
		UploadID:    r.FormValue("uploadId"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		Metadata:    formMetadata(r.MultipartForm.Value),
		Timeout:     time.Duration(timeout) * time.Second,
	}

	var out *upload.Outcome
	if strings.EqualFold(r.FormValue("mode"), "sync") {
		out, err = s.svc.Submit(d.Ctx, req)
	} else {
		out, err = s.svc.SubmitAsync(d.Ctx, req)
	}
	if err != nil {
		writeError(w, d, err)
		return
	}

	status := http.StatusOK
	if out.Status == upload.OutcomeAccepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// formMetadata collects metadata[key] form fields.
func formMetadata(values map[string][]string) map[string]string {
	var md map[string]string
	for k, v := range values {
		inner, ok := strings.CutPrefix(k, "metadata[")
		if !ok {
			continue
		}
		key, ok := strings.CutSuffix(inner, "]")
		if !ok || key == "" || len(v) == 0 {
			continue
		}
		if md == nil {
			md = make(map[string]string)
		}
		md[key] = v[0]
	}
	return md
}

func (s *Server) handleTwoSegments(d *Data, w http.ResponseWriter) {
	first, second := d.Req.PathValue("first"), d.Req.PathValue("second")
	switch {
	case first == "download":
		s.download(d, w, second)
	case second == "status":
		s.status(d, w, first)
	default:
		writeErrorBody(w, d, http.StatusNotFound, upload.ErrCodeNotFound.String(), "no such route")
	}
}

func (s *Server) status(d *Data, w http.ResponseWriter, uploadRequestID string) {
	clientID, ok := s.clientID(d, w, d.Req.URL.Query().Get("clientId"))
	if !ok {
		return
	}
	view, err := s.svc.Status(d.Ctx, uploadRequestID, clientID)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInfo(d *Data, w http.ResponseWriter) {
	clientID, ok := s.clientID(d, w, d.Req.URL.Query().Get("clientId"))
	if !ok {
		return
	}
	out, err := s.svc.Info(d.Ctx, d.Req.PathValue("uploadRequestId"), clientID)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(d *Data, w http.ResponseWriter) {
	clientID, ok := s.clientID(d, w, d.Req.URL.Query().Get("clientId"))
	if !ok {
		return
	}
	if err := s.svc.Cancel(d.Ctx, d.Req.PathValue("uploadRequestId"), clientID); err != nil {
		writeError(w, d, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) download(d *Data, w http.ResponseWriter, fileID string) {
	clientID, ok := s.clientID(d, w, d.Req.URL.Query().Get("clientId"))
	if !ok {
		return
	}
	dl, err := s.svc.Download(d.Ctx, fileID, clientID)
	if err != nil {
		writeError(w, d, err)
		return
	}
	defer dl.Body.Close()

	h := w.Header()
	h.Set("Content-Type", dl.ContentType)
	if dl.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	if dl.ETag != "" {
		h.Set("ETag", dl.ETag)
	}
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, dl.Body); err != nil {
		logger.Ctx(d.Ctx).Warn().Err(err).Int64("written", n).Str("file_id", fileID).Msg("download interrupted")
	}
}

func (s *Server) handlePresign(d *Data, w http.ResponseWriter) {
	q := d.Req.URL.Query()
	clientID, ok := s.clientID(d, w, q.Get("clientId"))
	if !ok {
		return
	}
	minutes := upload.DefaultPresignMinutes
	if raw := q.Get("expiryMinutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorBody(w, d, http.StatusBadRequest, upload.ErrCodeValidation.String(),
				"expiryMinutes must be an integer")
			return
		}
		minutes = n
	}
	res, err := s.svc.PresignedURL(d.Ctx, d.Req.PathValue("fileId"), clientID, minutes)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// clientID resolves the acting client. An authenticated subject wins; a
// different explicit clientId is refused.
func (s *Server) clientID(d *Data, w http.ResponseWriter, explicit string) (string, bool) {
	if explicit == "" {
		explicit = d.Req.Header.Get(HeaderClientID)
	}
	if d.Subject == "" {
		return explicit, true
	}
	if explicit != "" && explicit != d.Subject {
		writeErrorBody(w, d, http.StatusForbidden, upload.ErrCodeForbidden.String(), "access denied")
		return "", false
	}
	return d.Subject, true
}
