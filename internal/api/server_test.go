package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/poet"
	"github.com/raine/image-poet/internal/storage"
)

type stubCaptioner struct {
	text string
	err  error
}

func (s *stubCaptioner) Caption(ctx context.Context, img *caption.Image, task caption.Task, extraText string) (caption.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return caption.Result{task: s.text}, nil
}

type stubCompleter struct {
	mu      sync.Mutex
	replies []string
	// release, when set, holds every reply until closed.
	release chan struct{}
}

func (s *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", failure.New(failure.KindRemoteServiceFailure, "chat.stub", errors.New("status 500"))
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func setupServer(t *testing.T, captioner caption.Captioner, completer *stubCompleter) (*gin.Engine, *storage.SQLiteStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := NewServer(context.Background(), captioner,
		poet.NewAnalyzer(captioner, completer), poet.NewComposer(completer), store)
	return server.Router(), store
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 30), G: 120, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if data != nil {
		part, err := w.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func getSession(t *testing.T, router *gin.Engine, id string) SessionResponse {
	t.Helper()
	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	return decode[SessionResponse](t, w)
}

func waitForState(t *testing.T, router *gin.Engine, id, state string) SessionResponse {
	t.Helper()
	var last SessionResponse
	require.Eventually(t, func() bool {
		last = getSession(t, router, id)
		return last.State == state
	}, 2*time.Second, 10*time.Millisecond, "session never reached %q", state)
	return last
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupServer(t, &stubCaptioner{}, &stubCompleter{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCaption(t *testing.T) {
	router, _ := setupServer(t, &stubCaptioner{text: "a lake at dusk"}, &stubCompleter{})

	w := serve(router, uploadRequest(t, "/api/v1/caption", pngBytes(t), map[string]string{"task": "detailed"}))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]string](t, w)
	assert.Equal(t, string(caption.TaskDetailedCaption), resp["task"])
	assert.Equal(t, "a lake at dusk", resp["text"])
}

func TestCaption_BadRequests(t *testing.T) {
	router, _ := setupServer(t, &stubCaptioner{text: "x"}, &stubCompleter{})

	tests := []struct {
		name   string
		data   []byte
		fields map[string]string
	}{
		{name: "missing image"},
		{name: "not an image", data: []byte("hello")},
		{name: "unknown task", data: pngBytes(t), fields: map[string]string{"task": "haiku"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, uploadRequest(t, "/api/v1/caption", tt.data, tt.fields))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid request", decode[map[string]string](t, w)["kind"])
		})
	}
}

func TestCaption_RemoteFailure(t *testing.T) {
	captioner := &stubCaptioner{err: failure.New(failure.KindRemoteServiceFailure, "caption.gemini", errors.New("status 503"))}
	router, _ := setupServer(t, captioner, &stubCompleter{})

	w := serve(router, uploadRequest(t, "/api/v1/caption", pngBytes(t), nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "status 503")
}

func TestSessionFlow(t *testing.T) {
	completer := &stubCompleter{replies: []string{"[秋风, 落日, 孤舟]", "秋风吹落日\n孤舟泊寒江"}}
	router, store := setupServer(t, &stubCaptioner{text: "a boat on a river at sunset"}, completer)

	w := serve(router, uploadRequest(t, "/api/v1/sessions", pngBytes(t), nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decode[SessionResponse](t, w)
	require.NotEmpty(t, created.ID)

	ready := waitForState(t, router, created.ID, "keywords ready")
	assert.Equal(t, "a boat on a river at sunset", ready.Caption)
	assert.Equal(t, []string{"秋风", "落日", "孤舟"}, ready.Keywords)

	body := `{"keywords": ["秋风", "孤舟"], "form": "五言绝句", "user_id": 42}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.ID+"/compose", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = serve(router, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	done := waitForState(t, router, created.ID, "poem ready")
	assert.Equal(t, "秋风吹落日\n孤舟泊寒江", done.Poem)
	assert.Equal(t, string(poet.FormWuyanJueju), done.Form)

	var poems []storage.Poem
	require.Eventually(t, func() bool {
		var err error
		poems, err = store.ListPoems(42, 10)
		return err == nil && len(poems) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"秋风", "孤舟"}, poems[0].Keywords)
	assert.Equal(t, "a boat on a river at sunset", poems[0].Caption)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/poems?user_id=42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[map[string][]PoemResponse](t, w)["poems"]
	require.Len(t, listed, 1)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/poems/"+listed[0].ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "秋风吹落日\n孤舟泊寒江", decode[PoemResponse](t, w).Text)

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+created.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_AnalysisFailureThenRetry(t *testing.T) {
	completer := &stubCompleter{}
	router, _ := setupServer(t, &stubCaptioner{text: "a cat"}, completer)

	w := serve(router, uploadRequest(t, "/api/v1/sessions", pngBytes(t), nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[SessionResponse](t, w).ID

	var failed SessionResponse
	require.Eventually(t, func() bool {
		failed = getSession(t, router, id)
		return failed.Error != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "image loaded", failed.State)
	assert.Equal(t, "remote service failure", failed.ErrorKind)

	completer.mu.Lock()
	completer.replies = []string{"[猫]"}
	completer.mu.Unlock()

	w = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/analyze", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	ready := waitForState(t, router, id, "keywords ready")
	assert.Equal(t, []string{"猫"}, ready.Keywords)
	assert.Empty(t, ready.Error)
}

func TestSession_BusyWhileAnalyzing(t *testing.T) {
	completer := &stubCompleter{replies: []string{"[山]"}, release: make(chan struct{})}
	router, _ := setupServer(t, &stubCaptioner{text: "a mountain"}, completer)

	w := serve(router, uploadRequest(t, "/api/v1/sessions", pngBytes(t), nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[SessionResponse](t, w).ID

	w = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/analyze", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	w = serve(router, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(completer.release)
	waitForState(t, router, id, "keywords ready")
}

func TestCompose_Rejected(t *testing.T) {
	router, _ := setupServer(t, &stubCaptioner{text: "a river"}, &stubCompleter{replies: []string{"[江]"}})

	w := serve(router, uploadRequest(t, "/api/v1/sessions", pngBytes(t), nil))
	id := decode[SessionResponse](t, w).ID
	waitForState(t, router, id, "keywords ready")

	tests := []struct {
		name string
		body string
	}{
		{name: "no keywords", body: `{"keywords": [" ", ""]}`},
		{name: "unknown form", body: `{"keywords": ["江"], "form": "limerick"}`},
		{name: "bad json", body: `{"keywords": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/compose", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := serve(router, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Equal(t, "keywords ready", getSession(t, router, id).State)
}

func TestUnknownSessionAndPoem(t *testing.T) {
	router, _ := setupServer(t, &stubCaptioner{}, &stubCompleter{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/poems/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/poems?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(failure.Newf(failure.KindInvalidRequest, "op", "x")))
	assert.Equal(t, http.StatusConflict, statusFor(failure.ErrBusy))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(failure.Newf(failure.KindNotInitialized, "op", "x")))
	assert.Equal(t, http.StatusBadGateway, statusFor(failure.Newf(failure.KindMalformedResponse, "op", "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
