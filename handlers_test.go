package novasite

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesinova/novasite/media"
)

const (
	testPassword = "hunter2"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

var pngStandIn = media.EncoderFunc{
	Fn: func(w io.Writer, img image.Image, _ media.EncodeOptions) error {
		return png.Encode(w, img)
	},
	MIME: "image/png",
}

type testApp struct {
	*App
	root     string
	notifier *fakeNotifier
}

func newTestApp(t *testing.T, mutate func(*SiteConfig), opts ...Option) *testApp {
	t.Helper()
	root := t.TempDir()
	cfg := SiteConfig{
		DatabasePath: filepath.Join(root, "data", "submissions.db"),
		Media: media.Config{
			InputDir:     filepath.Join(root, "raw"),
			OutputDir:    filepath.Join(root, "out"),
			ManifestPath: filepath.Join(root, "data", "manifest.json"),
		},
		AdminPassword: testPassword,
		SessionSecret: testSecret,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	n := &fakeNotifier{}
	opts = append([]Option{
		WithNotifier(n),
		WithMediaOptions(
			media.WithEncoder("avif", pngStandIn),
			media.WithEncoder("webp", pngStandIn),
		),
	}, opts...)
	a := New(cfg, opts...)
	require.NoError(t, a.Init())
	t.Cleanup(func() { a.Close() })
	return &testApp{App: a, root: root, notifier: n}
}

func (ta *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ta.Echo.ServeHTTP(rec, req)
	return rec
}

func (ta *testApp) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderOrigin, "https://genesinova.example")
	return ta.do(req)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSendEmailStoresAndNotifies(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.postJSON("/api/send-email", `{"type":"contact","name":"Ada","email":"ada@example.com","subject":"Hi","message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	sent := ta.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeContact, sent[0].Type)
	assert.Equal(t, "Ada", sent[0].Name)
	assert.NotEmpty(t, sent[0].ID)

	subs, err := ta.Store.ListSubmissions(TypeContact)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sent[0].ID, subs[0].ID)
}

func TestSendEmailPreflight(t *testing.T) {
	ta := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/send-email", nil)
	req.Header.Set(echo.HeaderOrigin, "https://genesinova.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(echo.HeaderAccessControlRequestHeaders, "content-type,apikey")
	rec := ta.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPost)
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowHeaders), "apikey")
}

func TestSendEmailRejects(t *testing.T) {
	ta := newTestApp(t, func(c *SiteConfig) { c.SubmissionLimit = 100 })

	tests := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"invalid json", `{"type":`, http.StatusBadRequest, "Invalid JSON body"},
		{"missing type", `{"email":"a@example.com"}`, http.StatusBadRequest, "Missing type"},
		{"null body", `null`, http.StatusBadRequest, "Missing type"},
		{"unknown type", `{"type":"survey"}`, http.StatusBadRequest, "Unknown type"},
		{"subscriber without email", `{"type":"subscriber","source":"footer"}`, http.StatusUnprocessableEntity, "Invalid submission: email is required"},
		{"subscriber bad email", `{"type":"subscriber","email":"not-an-email"}`, http.StatusUnprocessableEntity, "Invalid submission: email must be a valid email"},
		{"contact without message", `{"type":"contact","name":"Ada","email":"ada@example.com"}`, http.StatusUnprocessableEntity, "Invalid submission: message is required"},
		{"collab without inquiry type", `{"type":"collab","email":"b@example.com","message":"hi"}`, http.StatusUnprocessableEntity, "Invalid submission: inquiry_type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.postJSON("/api/send-email", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.msg, decodeJSON(t, rec)["error"])
		})
	}
	assert.Empty(t, ta.notifier.sent())
}

func TestSendEmailMethodNotAllowed(t *testing.T) {
	ta := newTestApp(t, nil)
	rec := ta.do(httptest.NewRequest(http.MethodGet, "/api/send-email", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, decodeJSON(t, rec)["error"])
}

func TestSendEmailNotifyFailureStillStores(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.notifier.err = errors.New("dial tcp: connection refused")

	rec := ta.postJSON("/api/send-email", `{"type":"subscriber","email":"fan@example.com","source":"podcast"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Email send failed", decodeJSON(t, rec)["error"])

	n, err := ta.Store.CountSubscribers()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendEmailWithoutSMTP(t *testing.T) {
	root := t.TempDir()
	a := New(SiteConfig{
		DatabasePath: filepath.Join(root, "submissions.db"),
		Media: media.Config{
			InputDir:     filepath.Join(root, "raw"),
			OutputDir:    filepath.Join(root, "out"),
			ManifestPath: filepath.Join(root, "manifest.json"),
		},
	})
	require.NoError(t, a.Init())
	t.Cleanup(func() { a.Close() })
	ta := &testApp{App: a, root: root}

	rec := ta.postJSON("/api/send-email", `{"type":"collab","email":"b@example.com","inquiry_type":"create"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SMTP not configured", decodeJSON(t, rec)["error"])

	subs, err := a.Store.ListSubmissions(TypeCollab)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// Admin routes are off without a password and secret.
	rec = ta.do(httptest.NewRequest(http.MethodGet, "/admin/submissions/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendEmailRateLimited(t *testing.T) {
	ta := newTestApp(t, func(c *SiteConfig) { c.SubmissionLimit = 2 })
	body := `{"type":"subscriber","email":"fan@example.com"}`

	assert.Equal(t, http.StatusOK, ta.postJSON("/api/send-email", body).Code)
	assert.Equal(t, http.StatusOK, ta.postJSON("/api/send-email", body).Code)
	rec := ta.postJSON("/api/send-email", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, ta.notifier.sent(), 2)
}

func TestMediaAPI(t *testing.T) {
	ta := newTestApp(t, nil)
	require.NoError(t, media.SaveManifest(ta.Config.Media.ManifestPath, media.Manifest{
		"hero": {
			ID:          "hero",
			Src:         "/images/optimized/hero-1920.webp",
			Width:       2400,
			Height:      1200,
			Placeholder: "data:image/webp;base64,AAAA",
			Variants: map[string][]int{
				"avif": {480, 1920},
				"webp": {480, 1920},
			},
		},
	}))

	rec := ta.do(httptest.NewRequest(http.MethodGet, "/api/media/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ids":["hero"]}`, rec.Body.String())

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/hero?desktop=50vw", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		ID          string            `json:"id"`
		Src         string            `json:"src"`
		Placeholder string            `json:"blurDataURL"`
		Sources     map[string]string `json:"sources"`
		Sizes       string            `json:"sizes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "/images/optimized/hero-1920.webp", got.Src)
	assert.Equal(t, "data:image/webp;base64,AAAA", got.Placeholder)
	assert.Equal(t, "/images/optimized/hero-480.avif 480w, /images/optimized/hero-1920.avif 1920w", got.Sources["avif"])
	assert.Equal(t, "(min-width: 1024px) 50vw", got.Sizes)

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found", decodeJSON(t, rec)["error"])
}

func TestMediaAPIEmptyManifest(t *testing.T) {
	ta := newTestApp(t, nil)
	rec := ta.do(httptest.NewRequest(http.MethodGet, "/api/media/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ids":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	ta := newTestApp(t, nil)
	rec := ta.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

// adminSession logs in and returns the cookies and CSRF token to reuse.
type adminSession struct {
	cookies map[string]*http.Cookie
	csrf    string
}

func (s *adminSession) keep(rec *httptest.ResponseRecorder) {
	for _, c := range rec.Result().Cookies() {
		s.cookies[c.Name] = c
	}
}

func (s *adminSession) prepare(req *http.Request) *http.Request {
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	if s.csrf != "" {
		req.Header.Set("X-CSRF-Token", s.csrf)
	}
	return req
}

func (ta *testApp) startSession(t *testing.T) *adminSession {
	t.Helper()
	s := &adminSession{cookies: map[string]*http.Cookie{}}
	rec := ta.do(httptest.NewRequest(http.MethodGet, "/admin/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, false, body["authenticated"])
	s.csrf, _ = body["csrf"].(string)
	require.NotEmpty(t, s.csrf)
	s.keep(rec)
	return s
}

func (ta *testApp) login(t *testing.T, s *adminSession, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login/", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := ta.do(s.prepare(req))
	s.keep(rec)
	return rec
}

func TestAdminRequiresLogin(t *testing.T) {
	ta := newTestApp(t, nil)
	rec := ta.do(httptest.NewRequest(http.MethodGet, "/admin/submissions/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLoginRejectsWrongPassword(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.startSession(t)

	rec := ta.login(t, s, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/submissions/", nil)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLoginRequiresCSRF(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.startSession(t)
	s.csrf = "forged"

	rec := ta.login(t, s, testPassword)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSubmissions(t *testing.T) {
	ta := newTestApp(t, nil)
	require.Equal(t, http.StatusOK, ta.postJSON("/api/send-email", `{"type":"subscriber","email":"fan@example.com"}`).Code)
	require.Equal(t, http.StatusOK, ta.postJSON("/api/send-email", `{"type":"contact","name":"Ada","email":"ada@example.com","message":"hi"}`).Code)

	s := ta.startSession(t)
	rec := ta.login(t, s, testPassword)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/submissions/", nil)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var all struct {
		Submissions []Submission `json:"submissions"`
		Subscribers int          `json:"subscribers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all.Submissions, 2)
	assert.Equal(t, 1, all.Subscribers)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/submissions/?type=contact", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts struct {
		Submissions []Submission `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contacts))
	require.Len(t, contacts.Submissions, 1)
	assert.Equal(t, "Ada", contacts.Submissions[0].Name)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/submissions/?type=bogus", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodDelete, "/admin/subscribers/fan@example.com/", nil)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodDelete, "/admin/subscribers/fan@example.com/", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodPost, "/admin/logout/", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	s.keep(rec)
	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/submissions/", nil)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func uploadRequest(t *testing.T, filename string, w, h int) *http.Request {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/images/upload/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func TestAdminImageUploadAndDelete(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.startSession(t)
	require.Equal(t, http.StatusOK, ta.login(t, s, testPassword).Code)

	rec := ta.do(s.prepare(uploadRequest(t, "Choir Photo.PNG", 600, 300)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up struct {
		ID        string              `json:"id"`
		Processed []string            `json:"processed"`
		Image     media.ManifestEntry `json:"image"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "choir-photo", up.ID)
	assert.Equal(t, []string{"choir-photo"}, up.Processed)
	assert.Equal(t, []int{480}, up.Image.Variants["webp"])
	assert.Equal(t, "/images/optimized/choir-photo-480.webp", up.Image.Src)
	assert.FileExists(t, filepath.Join(ta.Config.Media.InputDir, "choir-photo.png"))
	assert.FileExists(t, filepath.Join(ta.Config.Media.OutputDir, "choir-photo-480.avif"))

	// Same name again gets a fresh id.
	rec = ta.do(s.prepare(uploadRequest(t, "choir photo.png", 300, 300)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "choir-photo-2", up.ID)

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/choir-photo", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodGet, "/admin/images/", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Images []media.ManifestEntry `json:"images"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Images, 2)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodDelete, "/admin/images/choir-photo/", nil)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoFileExists(t, filepath.Join(ta.Config.Media.InputDir, "choir-photo.png"))
	assert.NoFileExists(t, filepath.Join(ta.Config.Media.OutputDir, "choir-photo-480.avif"))

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/choir-photo", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodDelete, "/admin/images/choir-photo/", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminImageDeleteKeepsOtherImagesVariants(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.startSession(t)
	require.Equal(t, http.StatusOK, ta.login(t, s, testPassword).Code)
	out := ta.Config.Media.OutputDir

	require.Equal(t, http.StatusCreated, ta.do(s.prepare(uploadRequest(t, "hero.png", 600, 300))).Code)
	rec := ta.do(s.prepare(uploadRequest(t, "hero-480.png", 300, 200)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up struct {
		ID    string              `json:"id"`
		Image media.ManifestEntry `json:"image"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "hero-480", up.ID)
	assert.Equal(t, "/images/optimized/original/hero-480.png", up.Image.Src)
	assert.FileExists(t, filepath.Join(out, media.OriginalsDir, "hero-480.png"))

	rec = ta.do(s.prepare(httptest.NewRequest(http.MethodDelete, "/admin/images/hero-480/", nil)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoFileExists(t, filepath.Join(out, media.OriginalsDir, "hero-480.png"))
	assert.FileExists(t, filepath.Join(out, "hero-480.webp"))
	assert.FileExists(t, filepath.Join(out, "hero-480.avif"))

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/hero", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminImageUploadRejectsOversized(t *testing.T) {
	ta := newTestApp(t, func(cfg *SiteConfig) { cfg.Media.MaxPixels = 1000 })
	s := ta.startSession(t)
	require.Equal(t, http.StatusOK, ta.login(t, s, testPassword).Code)

	rec := ta.do(s.prepare(uploadRequest(t, "poster.png", 600, 300)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = ta.do(httptest.NewRequest(http.MethodGet, "/api/media/poster", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminImageUploadRejectsUnsupported(t *testing.T) {
	ta := newTestApp(t, nil)
	s := ta.startSession(t)
	require.Equal(t, http.StatusOK, ta.login(t, s, testPassword).Code)

	rec := ta.do(s.prepare(uploadRequest(t, "notes.txt", 10, 10)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	entries, err := os.ReadDir(ta.Config.Media.InputDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestGeneratedFilesServed(t *testing.T) {
	ta := newTestApp(t, nil)
	require.NoError(t, os.MkdirAll(ta.Config.Media.OutputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ta.Config.Media.OutputDir, "x-480.webp"), []byte("RIFF"), 0o644))

	rec := ta.do(httptest.NewRequest(http.MethodGet, "/images/optimized/x-480.webp", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
}
