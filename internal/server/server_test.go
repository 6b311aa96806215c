package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"placementportal/internal/app"
	"placementportal/internal/session"
	"placementportal/internal/storage"
	"placementportal/internal/store"
)

func newTestServer(t *testing.T, overrides func(*Config)) *httptest.Server {
	t.Helper()
	sessions, err := session.NewJWTStore("test-secret", time.Minute, session.Options{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	a, err := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Objects:  storage.NewMemoryObjectStore(),
		Sessions: sessions,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	cfg := Config{
		App:                      a,
		RedisAddr:                redis.Addr(),
		SignupRateLimitPerMinute: 100,
		LoginRateLimitPerMinute:  100,
	}
	if overrides != nil {
		overrides(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func signup(t *testing.T, baseURL, username, password string) string {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	resp, err := http.Post(baseURL+"/api/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("signup returned empty token")
	}
	return out.Token
}

func multipartUpload(t *testing.T, filename, year, section, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if year != "" {
		_ = mw.WriteField("year", year)
	}
	if section != "" {
		_ = mw.WriteField("section", section)
	}
	if filename != "" {
		// Send an explicit part content type the way browsers do.
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		header.Set("Content-Type", "text/csv")
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func doAuthed(t *testing.T, method, url, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestFileLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	signup(t, ts.URL, "alice", "pw1secret")

	// login
	resp0, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"username":"alice","password":"pw1secret"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	if resp0.StatusCode != http.StatusOK {
		t.Fatalf("login expected 200, got %d", resp0.StatusCode)
	}
	var loginOut struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp0.Body).Decode(&loginOut); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	resp0.Body.Close()
	token := loginOut.Token
	if token == "" {
		t.Fatalf("login returned empty token")
	}

	// upload
	body, contentType := multipartUpload(t, "grades.csv", "2nd Year", "A", "name,score\nbob,91\n")
	resp := doAuthed(t, http.MethodPost, ts.URL+"/api/upload", token, body, contentType)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload expected 200, got %d", resp.StatusCode)
	}
	var uploadOut struct {
		File struct {
			ID       string `json:"id"`
			Filename string `json:"filename"`
			FilePath string `json:"filePath"`
			Year     string `json:"year"`
			Section  string `json:"section"`
		} `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadOut); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	resp.Body.Close()
	if uploadOut.File.ID == "" || uploadOut.File.Filename != "grades.csv" || uploadOut.File.Year != "2nd Year" || uploadOut.File.Section != "A" {
		t.Fatalf("unexpected upload response: %+v", uploadOut.File)
	}
	if uploadOut.File.FilePath != "/api/file/grades.csv" {
		t.Fatalf("unexpected filePath %q", uploadOut.File.FilePath)
	}

	// list
	resp = doAuthed(t, http.MethodGet, ts.URL+"/api/files", token, nil, "")
	var listOut struct {
		Items []struct {
			Filename string `json:"filename"`
		} `json:"items"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listOut); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	resp.Body.Close()
	if listOut.Count != 1 || len(listOut.Items) != 1 || listOut.Items[0].Filename != "grades.csv" {
		t.Fatalf("unexpected list response: %+v", listOut)
	}

	// download
	resp = doAuthed(t, http.MethodGet, ts.URL+"/api/file/grades.csv", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "grades.csv") {
		t.Fatalf("unexpected download disposition %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "name,score\nbob,91\n" {
		t.Fatalf("unexpected download body %q", data)
	}

	// view serves the stored content type inline
	resp = doAuthed(t, http.MethodGet, ts.URL+"/view/grades.csv", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("view content type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Fatalf("unexpected view disposition %q", cd)
	}
	resp.Body.Close()

	// delete
	resp = doAuthed(t, http.MethodDelete, ts.URL+"/api/file/grades.csv", token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doAuthed(t, http.MethodGet, ts.URL+"/api/files", token, nil, "")
	listOut.Items = nil
	if err := json.NewDecoder(resp.Body).Decode(&listOut); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	resp.Body.Close()
	if listOut.Count != 0 {
		t.Fatalf("expected empty list after delete, got %+v", listOut)
	}

	resp = doAuthed(t, http.MethodGet, ts.URL+"/api/file/grades.csv", "", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("download after delete expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t, nil)
	signup(t, ts.URL, "bob", "pw1secret")

	resp, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"username":"bob","password":"nope"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("login expected 400, got %d", resp.StatusCode)
	}
	var out struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if out.Error != "incorrect password" || out.Code != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("unexpected error envelope: %+v", out)
	}
	if out.RequestID == "" {
		t.Fatalf("expected requestId in error envelope")
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	ts := newTestServer(t, nil)
	signup(t, ts.URL, "alice", "pw1secret")

	resp, err := http.Post(ts.URL+"/api/signup", "application/json", strings.NewReader(`{"username":"alice","password":"pw2secret"}`))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate signup expected 400, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/files"},
		{http.MethodPost, "/api/upload"},
		{http.MethodGet, "/api/admin-dashboard"},
		{http.MethodDelete, "/api/file/grades.csv"},
	} {
		resp := doAuthed(t, tc.method, ts.URL+tc.path, "", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestUploadMissingYearRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	token := signup(t, ts.URL, "alice", "pw1secret")

	body, contentType := multipartUpload(t, "grades.csv", "", "A", "x")
	resp := doAuthed(t, http.MethodPost, ts.URL+"/api/upload", token, body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload expected 400, got %d", resp.StatusCode)
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if out.Code != "PORTAL_MISSING_FIELDS" {
		t.Fatalf("code = %q, want PORTAL_MISSING_FIELDS", out.Code)
	}
}

func TestUploadMissingFileRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	token := signup(t, ts.URL, "alice", "pw1secret")

	body, contentType := multipartUpload(t, "", "2nd Year", "A", "")
	resp := doAuthed(t, http.MethodPost, ts.URL+"/api/upload", token, body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload expected 400, got %d", resp.StatusCode)
	}
}

func TestDeleteByNonOwnerForbidden(t *testing.T) {
	ts := newTestServer(t, nil)
	aliceToken := signup(t, ts.URL, "alice", "pw1secret")
	bobToken := signup(t, ts.URL, "bob", "pw2secret")

	body, contentType := multipartUpload(t, "grades.csv", "2nd Year", "A", "x")
	resp := doAuthed(t, http.MethodPost, ts.URL+"/api/upload", aliceToken, body, contentType)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doAuthed(t, http.MethodDelete, ts.URL+"/api/file/grades.csv", bobToken, nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner delete expected 403, got %d", resp.StatusCode)
	}

	// the file is still served
	check := doAuthed(t, http.MethodGet, ts.URL+"/api/file/grades.csv", "", nil, "")
	if check.StatusCode != http.StatusOK {
		t.Fatalf("download after forbidden delete expected 200, got %d", check.StatusCode)
	}
	check.Body.Close()
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.LoginRateLimitPerMinute = 1
	})
	signup(t, ts.URL, "alice", "pw1secret")

	body := `{"username":"alice","password":"pw1secret"}`
	resp1, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("first login request: %v", err)
	}
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first login expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("second login request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login expected 429, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestServerRequiresRedisRateLimiter(t *testing.T) {
	_, err := New(Config{SignupRateLimitPerMinute: 1, LoginRateLimitPerMinute: 1})
	if err == nil {
		t.Fatalf("expected redis-backed limiter initialization to fail without redis addr")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/signup")
	if err != nil {
		t.Fatalf("get signup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/signup expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz expected 200, got %d", resp.StatusCode)
	}
}
