package app

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cgmelamed/whydatawhy/app/llm"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type upload struct {
	name    string
	content string
}

// formRequest builds a multipart POST with text fields and files under fileField.
func formRequest(t *testing.T, path string, fields map[string]string, fileField string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(fileField, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sseFrames(body string) []string {
	var frames []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if data, ok := strings.CutPrefix(chunk, "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

const salesCSV = "name,value\na,1\nb,2\nc,3\n"

func TestAnalyzeStreamsTokens(t *testing.T) {
	model := &fakeModel{tokens: []string{"Hel", "", "lo"}}
	ts := newTestServer(t, model)

	req := formRequest(t, "/api/analyze", map[string]string{"message": "What sells best?"}, "files",
		upload{name: "sales.csv", content: salesCSV})
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{`{"content":"Hel"}`, `{"content":"lo"}`, "[DONE]"}, sseFrames(w.Body.String()))

	prompts := model.prompts()
	require.Len(t, prompts, 1)
	assert.True(t, strings.HasPrefix(prompts[0], "What sells best?\n\nData context:"))
	assert.Contains(t, prompts[0], "File: sales.csv")
	assert.Contains(t, prompts[0], "3 rows")
	assert.Zero(t, ts.store.writes)
}

func TestAnalyzeChargesAfterSuccess(t *testing.T) {
	model := &fakeModel{tokens: []string{"ok"}}
	ts := newTestServer(t, model, freeUser("a", 3))

	req := formRequest(t, "/api/analyze", map[string]string{"message": "  trend?  "}, "files",
		upload{name: "sales.csv", content: salesCSV})
	req.Header.Set(testClaimsHeader, "sub-a")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{`{"content":"ok"}`, "[DONE]"}, sseFrames(w.Body.String()))

	u := ts.store.user("a")
	assert.Equal(t, 4, u.FreeQueriesUsed)
	assert.Equal(t, 1, u.TotalQueries)
	require.Len(t, ts.store.queries, 1)
	assert.Equal(t, "trend?", ts.store.queries[0].Question)
	assert.Contains(t, ts.events.names(), "usage_charged")
}

func TestAnalyzeStreamFailureIsNotCharged(t *testing.T) {
	model := &fakeModel{tokens: []string{"partial"}, streamErr: errors.New("upstream reset")}
	ts := newTestServer(t, model, freeUser("a", 0))

	req := formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files")
	req.Header.Set(testClaimsHeader, "sub-a")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{`{"content":"partial"}`, `{"error":"Failed to process request"}`}, sseFrames(w.Body.String()))
	assert.Zero(t, ts.store.user("a").TotalQueries)
	assert.Empty(t, ts.store.queries)
}

func TestAnalyzeOpenFailure(t *testing.T) {
	ts := newTestServer(t, &fakeModel{openErr: errors.New("401 from provider")})

	w := ts.do(formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{`{"error":"Failed to process request"}`}, sseFrames(w.Body.String()))
}

func TestAnalyzeWithoutModelCredential(t *testing.T) {
	ts := newTestServer(t, nil, freeUser("a", 0))

	req := formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files")
	req.Header.Set(testClaimsHeader, "sub-a")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	frames := sseFrames(w.Body.String())
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"content":"`+notConfiguredMessage+`"}`, frames[0])
	assert.Equal(t, "[DONE]", frames[1])
	assert.Zero(t, ts.store.user("a").TotalQueries)
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	model := &fakeModel{tokens: []string{"never"}}
	ts := newTestServer(t, model, freeUser("a", FreeQueryLimit))

	req := formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files")
	req.Header.Set(testClaimsHeader, "sub-a")
	w := ts.do(req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{
		"error": "free query limit reached",
		"reason": "quota_exceeded",
		"upgrade": true,
		"usage": {"isPro": false, "remaining": 0, "limit": 10}
	}`, w.Body.String())
	assert.Empty(t, model.prompts())
}

func TestAnalyzeUnsyncedAccount(t *testing.T) {
	ts := newTestServer(t, &fakeModel{})

	req := formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files")
	req.Header.Set(testClaimsHeader, "sub-ghost")
	w := ts.do(req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "account_not_found")
}

func TestAnalyzeRejectsNonMultipart(t *testing.T) {
	ts := newTestServer(t, &fakeModel{})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")

	w := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid form data"}`, w.Body.String())
}

func TestAnalyzeReportsUnparseableUploads(t *testing.T) {
	model := &fakeModel{tokens: []string{"x"}}
	ts := newTestServer(t, model)

	req := formRequest(t, "/api/analyze", nil, "files",
		upload{name: "scan.pdf", content: "%PDF-1.4"},
		upload{name: "notes.txt", content: "remember the milk"},
	)
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	prompts := model.prompts()
	require.Len(t, prompts, 1)
	assert.True(t, strings.HasPrefix(prompts[0], defaultAnalysisMessage))
	assert.Contains(t, prompts[0], "File: scan.pdf - Error parsing file")
	assert.Contains(t, prompts[0], "File: notes.txt")
	assert.Contains(t, prompts[0], "remember the milk")
}

func TestBuildAnalysisPrompt(t *testing.T) {
	tests := []struct {
		name, message, context, want string
	}{
		{"greeting", "", "", greetingMessage},
		{"question only", "why?", "", "why?"},
		{"data only", "", "\n\nFile: a.csv", defaultAnalysisMessage + "\n\nData context:\n\nFile: a.csv"},
		{"both", "why?", "\n\nFile: a.csv", "why?\n\nData context:\n\nFile: a.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildAnalysisPrompt(tt.message, tt.context))
		})
	}
}

func TestDescribeUploadsEmpty(t *testing.T) {
	assert.Empty(t, describeUploads(nil, zap.NewNop()))
}

// brokenPipeWriter fails every body write, like a client that hung up.
type brokenPipeWriter struct {
	header http.Header
}

func (w *brokenPipeWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenPipeWriter) Write([]byte) (int, error) { return 0, errors.New("write: broken pipe") }
func (w *brokenPipeWriter) WriteHeader(int)           {}
func (w *brokenPipeWriter) Flush()                    {}

// hangingModel yields one token, then blocks until its context ends.
type hangingModel struct {
	cancelled chan struct{}
}

func (m *hangingModel) Configured() bool { return true }

func (m *hangingModel) Stream(ctx context.Context, _, _ string) (llm.TokenStream, error) {
	return &hangingStream{ctx: ctx, cancelled: m.cancelled}, nil
}

func (m *hangingModel) CompleteJSON(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}

type hangingStream struct {
	ctx       context.Context
	sent      bool
	cancelled chan struct{}
}

func (s *hangingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "first", nil
	}
	<-s.ctx.Done()
	close(s.cancelled)
	return "", s.ctx.Err()
}

func (s *hangingStream) Close() error { return nil }

func TestAnalyzeClientDisconnectCancelsUpstream(t *testing.T) {
	model := &hangingModel{cancelled: make(chan struct{})}
	ts := newTestServer(t, model, freeUser("a", 0))

	c, _ := gin.CreateTestContext(&brokenPipeWriter{})
	req := formRequest(t, "/api/analyze", map[string]string{"message": "hi"}, "files")
	c.Request = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Subject: "sub-a"}))

	ts.srv.Analyze(c)

	select {
	case <-model.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream stream was not cancelled after the write failed")
	}
	assert.Zero(t, ts.store.user("a").TotalQueries)
	assert.Empty(t, ts.store.queries)
	assert.NotContains(t, ts.events.names(), "usage_charged")
}
