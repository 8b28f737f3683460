package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/memory"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	store  *backend.MemoryStorage
	svc    upload.Service
}

func newTestEnv(t *testing.T, mutate func(*Config, *upload.Config)) *testEnv {
	t.Helper()

	db := memory.New()
	store := backend.NewMemoryStorage()
	coord, err := idempotency.New(idempotency.Config{Store: db, MaxAttempts: 3})
	require.NoError(t, err)

	ucfg := upload.Config{
		Coordinator: coord,
		Files:       db,
		ObjectStore: store,
		Bucket:      "uploads",
	}
	cfg := Config{}
	if mutate != nil {
		mutate(&cfg, &ucfg)
	}

	svc, err := upload.NewService(ucfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	cfg.Service = svc
	server, err := NewServer(cfg)
	require.NoError(t, err)
	return &testEnv{server: server, store: store, svc: svc}
}

type uploadForm struct {
	clientID    string
	uploadID    string
	filename    string
	contentType string
	body        []byte
	fields      map[string]string
}

func (f uploadForm) encode(t *testing.T) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if f.clientID != "" {
		require.NoError(t, mw.WriteField("clientId", f.clientID))
	}
	if f.uploadID != "" {
		require.NoError(t, mw.WriteField("uploadId", f.uploadID))
	}
	for k, v := range f.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if f.body != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newUploadForm(client, upload string, body []byte) uploadForm {
	return uploadForm{
		clientID:    client,
		uploadID:    upload,
		filename:    "report.pdf",
		contentType: "application/pdf",
		body:        body,
		fields:      map[string]string{},
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, form uploadForm, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := form.encode(t)
	req := httptest.NewRequest(http.MethodPost, basePath+"/upload", body)
	req.Header.Set("Content-Type", ct)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(t, req)
}

func (e *testEnv) get(t *testing.T, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// syncUpload stores body and returns the completed outcome.
func (e *testEnv) syncUpload(t *testing.T, client, uploadID string, body []byte) upload.Outcome {
	t.Helper()
	form := newUploadForm(client, uploadID, body)
	form.fields["mode"] = "sync"
	rec := e.upload(t, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[upload.Outcome](t, rec)
	require.Equal(t, upload.OutcomeCompleted, out.Status)
	return out
}
