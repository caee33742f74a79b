package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmerrifield20/temeva/internal/mockserver"
	"github.com/jmerrifield20/temeva/pkg/client"
)

// ── Helpers ─────────────────────────────────────────────────────────────

func newServer(t *testing.T, cfg mockserver.Config) *mockserver.Server {
	t.Helper()
	srv := mockserver.New(cfg)
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *mockserver.Server, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{client.WithBaseURL(srv.URL)}, opts...)
	c, err := client.New(context.Background(), "user@example.com", "secret", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ── Construction ────────────────────────────────────────────────────────

func TestNew_resolvesDefaultOrganization(t *testing.T) {
	srv := newServer(t, mockserver.Config{OrganizationID: "org-42"})

	c := login(t, srv)
	if c.OrganizationID() != "org-42" {
		t.Errorf("OrganizationID: got %q, want org-42", c.OrganizationID())
	}

	reqs := srv.Requests()
	if len(reqs) < 2 {
		t.Fatalf("expected at least 2 requests, got %d", len(reqs))
	}
	if reqs[0].Path != "/api/iam/organizations/default" {
		t.Errorf("first request: got %s", reqs[0].Path)
	}
	if reqs[1].Path != "/api/iam/oauth2/token" {
		t.Errorf("second request: got %s", reqs[1].Path)
	}
	body := string(reqs[1].Body)
	for _, want := range []string{`"grant_type":"password"`, `"username":"user@example.com"`, `"password":"secret"`, `"scope":"org-42"`} {
		if !strings.Contains(body, want) {
			t.Errorf("token body %s missing %s", body, want)
		}
	}
	if got := reqs[1].Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("token Content-Type: got %q", got)
	}
	if got := reqs[1].Header.Get("Accept"); got != "application/json" {
		t.Errorf("token Accept: got %q", got)
	}
}

func TestNew_withOrganizationIDSkipsLookup(t *testing.T) {
	srv := newServer(t, mockserver.Config{OrganizationID: "org-7"})

	login(t, srv, client.WithOrganizationID("org-7"))

	for _, r := range srv.Requests() {
		if r.Path == "/api/iam/organizations/default" {
			t.Fatal("default organization was looked up despite WithOrganizationID")
		}
	}
}

func TestNew_requiresCredentials(t *testing.T) {
	if _, err := client.New(context.Background(), "", "secret"); err == nil {
		t.Error("expected error for empty username")
	}
	if _, err := client.New(context.Background(), "user", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNew_authFailure(t *testing.T) {
	srv := newServer(t, mockserver.Config{})

	c, err := client.New(context.Background(), "user@example.com", "wrong", client.WithBaseURL(srv.URL))
	if c != nil {
		t.Error("expected nil client on auth failure")
	}
	var authErr *client.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", authErr.StatusCode)
	}
	if !strings.Contains(string(authErr.Body), "invalid_grant") {
		t.Errorf("body: got %s", authErr.Body)
	}
	if authErr.Source() == "" {
		t.Error("expected a source location")
	}
}

func TestNew_lookupFailure(t *testing.T) {
	srv := newServer(t, mockserver.Config{DefaultOrgStatus: http.StatusServiceUnavailable})

	c, err := client.New(context.Background(), "user@example.com", "secret", client.WithBaseURL(srv.URL))
	if c != nil {
		t.Error("expected nil client on lookup failure")
	}
	var lookupErr *client.LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected *LookupError, got %T: %v", err, err)
	}
	if lookupErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", lookupErr.StatusCode)
	}
}

func TestNew_versionFailureIsNotFatal(t *testing.T) {
	srv := newServer(t, mockserver.Config{VersionStatus: http.StatusInternalServerError})

	c := login(t, srv)
	if c.Token() == "" {
		t.Error("expected a token despite the failed version check")
	}
}

func TestNew_transportError(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	base := srv.URL
	srv.Close()

	_, err := client.New(context.Background(), "user@example.com", "secret", client.WithBaseURL(base))
	var terr *client.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if errors.Unwrap(terr) == nil {
		t.Error("expected the transport error to be wrapped")
	}
}

func TestNew_jwtTokenExpiry(t *testing.T) {
	srv := newServer(t, mockserver.Config{
		SigningKey: []byte("test-signing-key"),
		TokenTTL:   30 * time.Minute,
	})

	c := login(t, srv)
	exp := c.TokenExpiry()
	if exp.IsZero() {
		t.Fatal("expected expiry from JWT exp claim")
	}
	if d := time.Until(exp); d < 29*time.Minute || d > 31*time.Minute {
		t.Errorf("expiry %v not ~30m away", d)
	}
}

func TestNew_opaqueTokenHasNoExpiry(t *testing.T) {
	srv := newServer(t, mockserver.Config{Token: "abc123"})

	c := login(t, srv)
	if !c.TokenExpiry().IsZero() {
		t.Errorf("expected zero expiry, got %v", c.TokenExpiry())
	}
	if c.Token() != "abc123" {
		t.Errorf("Token: got %q", c.Token())
	}
}

func TestWithRateLimit_invalid(t *testing.T) {
	_, err := client.New(context.Background(), "u", "p", client.WithRateLimit(0, 1))
	if err == nil {
		t.Error("expected error for zero rps")
	}
}

// ── Calls ───────────────────────────────────────────────────────────────

func TestExecute_attachesBearerToken(t *testing.T) {
	srv := newServer(t, mockserver.Config{Token: "abc123"})
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete} {
		srv.Handle(m, "/iam/users", ok)
	}

	c := login(t, srv)
	for _, verb := range []string{"get", "put", "post", "delete"} {
		if _, err := c.Execute(context.Background(), verb, "/iam/users", client.RequestOptions{}); err != nil {
			t.Fatalf("%s: %v", verb, err)
		}
		last, _ := srv.LastRequest()
		if got := last.Header.Get("Authorization"); got != "Bearer abc123" {
			t.Errorf("%s Authorization: got %q", verb, got)
		}
		if got := last.Header.Get("Accept"); got != "application/json" {
			t.Errorf("%s Accept: got %q", verb, got)
		}
	}
}

func TestGet_versionEndToEnd(t *testing.T) {
	srv := newServer(t, mockserver.Config{BuildNumber: "4.2.0"})
	c := login(t, srv)

	resp, err := c.Get(context.Background(), "/lic/version")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Kind != client.BodyJSON {
		t.Errorf("Kind: got %s", resp.Kind)
	}
	want := map[string]any{"build_number": "4.2.0"}
	if !reflect.DeepEqual(resp.Value, want) {
		t.Errorf("Value: got %#v, want %#v", resp.Value, want)
	}

	build, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if build != "4.2.0" {
		t.Errorf("Version: got %q", build)
	}
}

func TestGet_normalizesPath(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	c := login(t, srv)

	for _, p := range []string{"lic/version", "/lic/version", "/api/lic/version"} {
		if _, err := c.Get(context.Background(), p); err != nil {
			t.Fatalf("Get(%q): %v", p, err)
		}
		last, _ := srv.LastRequest()
		if last.Path != "/api/lic/version" {
			t.Errorf("Get(%q) hit %s", p, last.Path)
		}
	}
}

func TestGet_textResponse(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	c := login(t, srv)

	resp, err := c.Get(context.Background(), "/lic/ping")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Kind != client.BodyText || resp.Value != "ok" {
		t.Errorf("got kind %s value %#v, want text \"ok\"", resp.Kind, resp.Value)
	}
}

func TestGet_bytesResponse(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/export", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", []byte{0x1, 0x2, 0x3})
	})
	c := login(t, srv)

	resp, err := c.Get(context.Background(), "/lic/export")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Kind != client.BodyBytes {
		t.Errorf("Kind: got %s", resp.Kind)
	}
	if b, ok := resp.Value.([]byte); !ok || len(b) != 3 {
		t.Errorf("Value: got %#v", resp.Value)
	}
}

func TestExecute_httpError(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/checkouts", func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "boom")
	})
	c := login(t, srv)

	resp, err := c.Get(context.Background(), "/lic/checkouts")
	if resp != nil {
		t.Error("expected nil response on HTTP error")
	}
	var httpErr *client.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d", httpErr.StatusCode)
	}
	if string(httpErr.Body) != "boom" {
		t.Errorf("body: got %q", httpErr.Body)
	}

	// The client stays usable.
	if _, err := c.Get(context.Background(), "/lic/version"); err != nil {
		t.Errorf("follow-up call: %v", err)
	}
}

func TestGet_oversizedBody(t *testing.T) {
	const served = 32<<20 + 1
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/export", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", make([]byte, served))
	})
	c := login(t, srv)

	resp, err := c.Get(context.Background(), "/lic/export")
	if resp != nil {
		t.Errorf("expected nil response, got %d bytes", len(resp.Body))
	}
	var terr *client.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if !errors.Is(err, client.ErrBodyTooLarge) {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestNew_oversizedTokenReply(t *testing.T) {
	srv := newServer(t, mockserver.Config{Token: strings.Repeat("t", 1<<16)})

	_, err := client.New(context.Background(), "user@example.com", "secret", client.WithBaseURL(srv.URL))
	if !errors.Is(err, client.ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %T: %v", err, err)
	}
}

func TestExecute_transportErrorAfterLogin(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	c := login(t, srv)
	srv.Close()

	_, err := c.Get(context.Background(), "/lic/version")
	var terr *client.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if terr.Op != http.MethodGet {
		t.Errorf("Op: got %q", terr.Op)
	}
}

func TestExecute_verbs(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodDelete, "/lic/checkouts/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	c := login(t, srv)

	if _, err := c.Execute(context.Background(), "GeT", "/lic/version", client.RequestOptions{}); err != nil {
		t.Errorf("mixed-case verb: %v", err)
	}

	resp, err := c.Execute(context.Background(), "DELETE", "/lic/checkouts/c1", client.RequestOptions{Payload: map[string]string{"ignored": "x"}})
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	if last, _ := srv.LastRequest(); len(last.Body) != 0 {
		t.Errorf("DELETE sent a body: %s", last.Body)
	}

	_, err = c.Execute(context.Background(), "PATCH", "/lic/version", client.RequestOptions{})
	if !errors.Is(err, client.ErrUnsupportedVerb) {
		t.Errorf("expected ErrUnsupportedVerb, got %v", err)
	}
}

func TestGet_queryParams(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	var got url.Values
	srv.Handle(http.MethodGet, "/lic/checkouts", func(c *gin.Context) {
		got = c.Request.URL.Query()
		c.JSON(http.StatusOK, []any{})
	})
	c := login(t, srv)

	_, err := c.Get(context.Background(), "/lic/checkouts", client.WithParams(map[string]any{
		"organization_id": "org-1",
		"application_id":  "stc",
		"tags":            []string{"a", "b"},
	}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Get("organization_id") != "org-1" || got.Get("application_id") != "stc" {
		t.Errorf("query: got %v", got)
	}
	if !reflect.DeepEqual(got["tags"], []string{"a", "b"}) {
		t.Errorf("tags: got %v", got["tags"])
	}
}

func TestPut_queryParams(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodPut, "/lic/checkouts/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})
	c := login(t, srv)

	_, err := c.Put(context.Background(), "/lic/checkouts/c1",
		client.WithParams(map[string]any{"organization_id": "org-1"}),
		client.WithPayload(map[string]int{"count": 2}),
	)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	last, _ := srv.LastRequest()
	if last.RawQuery != "organization_id=org-1" {
		t.Errorf("query: got %q", last.RawQuery)
	}
}

func TestGet_jsonQueryParams(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/checkouts", func(c *gin.Context) {
		c.JSON(http.StatusOK, []any{})
	})
	c := login(t, srv, client.WithJSONQueryParams())

	_, err := c.Get(context.Background(), "/lic/checkouts", client.WithParams(map[string]any{"application_id": "stc"}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	last, _ := srv.LastRequest()
	decoded, err := url.PathUnescape(last.RawQuery)
	if err != nil {
		t.Fatalf("unescape %q: %v", last.RawQuery, err)
	}
	if decoded != `{"application_id":"stc"}` {
		t.Errorf("query: got %q", decoded)
	}
}

func TestPut_jsonPayload(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodPut, "/iam/users/:id", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, body)
	})
	c := login(t, srv)

	resp, err := c.Put(context.Background(), "/iam/users/u1", client.WithPayload(map[string]string{"name": "Ada"}))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.Map()["name"] != "Ada" {
		t.Errorf("echo: got %v", resp.Value)
	}
	last, _ := srv.LastRequest()
	if got := last.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type: got %q", got)
	}
	if string(last.Body) != `{"name":"Ada"}` {
		t.Errorf("body: got %s", last.Body)
	}
}

func TestPost_fileUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.json")
	if err := os.WriteFile(path, []byte(`{"ports":4}`), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := newServer(t, mockserver.Config{})
	var (
		filename, content, data string
	)
	srv.Handle(http.MethodPost, "/inv/maps", func(c *gin.Context) {
		fh, err := c.FormFile("mapFileFormFile")
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		f, _ := fh.Open()
		defer f.Close()
		buf := make([]byte, fh.Size)
		_, _ = f.Read(buf)
		filename, content = fh.Filename, string(buf)
		data = c.PostForm("data")
		c.JSON(http.StatusCreated, gin.H{"id": "m1"})
	})
	c := login(t, srv)

	resp, err := c.Post(context.Background(), "/inv/maps",
		client.WithFile(path),
		client.WithPayload(map[string]string{"name": "lab"}),
	)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	if filename != "map.json" || content != `{"ports":4}` {
		t.Errorf("upload: got %q %q", filename, content)
	}
	if data != `{"name":"lab"}` {
		t.Errorf("data field: got %q", data)
	}
	last, _ := srv.LastRequest()
	if ct := last.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
		t.Errorf("Content-Type: got %q", ct)
	}
}

func TestPost_missingFile(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	c := login(t, srv)

	if _, err := c.Post(context.Background(), "/inv/maps", client.WithFile(filepath.Join(t.TempDir(), "nope.json"))); err == nil {
		t.Error("expected error for missing upload file")
	}
}

// ── Ambient ─────────────────────────────────────────────────────────────

func TestExecute_logsCalls(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	srv.Handle(http.MethodGet, "/lic/broken", func(c *gin.Context) {
		c.String(http.StatusBadGateway, "upstream down")
	})
	core, logs := observer.New(zap.InfoLevel)
	c := login(t, srv, client.WithLogger(zap.New(core)))

	if _, err := c.Get(context.Background(), "/lic/version"); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("calling get").Len() == 0 {
		t.Error("no entry log")
	}
	returned := logs.FilterMessage("get returned").All()
	if len(returned) == 0 {
		t.Fatal("no exit log")
	}
	if _, ok := returned[len(returned)-1].ContextMap()["call_id"]; !ok {
		t.Error("exit log has no call_id")
	}

	_, _ = c.Get(context.Background(), "/lic/broken")
	failed := logs.FilterMessage("get failed").All()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure log, got %d", len(failed))
	}
	if failed[0].Level != zap.ErrorLevel {
		t.Errorf("failure level: got %s", failed[0].Level)
	}
	src, _ := failed[0].ContextMap()["source"].(string)
	if !strings.HasPrefix(src, "client.go:") {
		t.Errorf("source: got %q", src)
	}
	for _, e := range logs.All() {
		if strings.Contains(e.Message, "secret") {
			t.Errorf("password leaked into log: %q", e.Message)
		}
		for k, v := range e.ContextMap() {
			if s, ok := v.(string); ok && s == "secret" {
				t.Errorf("password leaked into field %q", k)
			}
		}
	}
}

func TestWithMetrics_countsRequests(t *testing.T) {
	srv := newServer(t, mockserver.Config{OrganizationID: "org-1"})
	reg := prometheus.NewRegistry()

	c := login(t, srv, client.WithOrganizationID("org-1"), client.WithMetrics(reg))
	if _, err := c.Get(context.Background(), "/lic/version"); err != nil {
		t.Fatal(err)
	}
	// A second client on the same registry reuses the collectors.
	login(t, srv, client.WithOrganizationID("org-1"), client.WithMetrics(reg))

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var gets float64
	for _, mf := range families {
		if mf.GetName() != "temeva_client_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["verb"] == http.MethodGet && labels["status"] == "200" {
				gets = m.GetCounter().GetValue()
			}
		}
	}
	// Two version checks during login plus one explicit GET.
	if gets != 3 {
		t.Errorf("GET 200 count: got %v, want 3", gets)
	}
}

func TestWithRateLimit_paces(t *testing.T) {
	srv := newServer(t, mockserver.Config{})
	c := login(t, srv, client.WithRateLimit(1000, 1))

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), "/lic/version"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "/lic/version"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
