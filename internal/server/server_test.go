package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"dailybugs-backend/internal/config"
	"dailybugs-backend/internal/github"
	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/store"
	"dailybugs-backend/internal/types"
)

type fakeGitHub struct {
	user github.User
	err  error
}

func (f *fakeGitHub) GetUser(context.Context, string) (github.User, error) { return f.user, f.err }
func (f *fakeGitHub) ListEmails(context.Context, string) ([]github.Email, error) {
	return nil, nil
}
func (f *fakeGitHub) ListPublicEvents(context.Context, string, string, int) (github.EventsPage, error) {
	return github.EventsPage{}, nil
}
func (f *fakeGitHub) GetDiff(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []pipeline.Params
}

func (f *fakeRunner) Run(_ context.Context, p pipeline.Params) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return pipeline.Result{Delivered: true}, nil
}

type testServer struct {
	*Server
	data     *store.MemoryStore
	sessions *store.MemoryStore
	runner   *fakeRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		AllowedOrigin: "*",
		FrontendURL:   "http://app.test",
		GitHub: config.GitHubConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://api.test/api/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		},
	}
	ts := &testServer{
		data:     store.NewMemoryStore(),
		sessions: store.NewMemoryStore(),
		runner:   &fakeRunner{},
	}
	ts.Server = NewServer(cfg, Deps{
		Store:    ts.data,
		Sessions: ts.sessions,
		GitHub:   &fakeGitHub{user: github.User{ID: 42, Login: "octo"}},
		Runner:   ts.runner,
	})
	return ts
}

// signIn returns a session cookie for user 42, who has a stored token.
func (ts *testServer) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	if err := ts.data.SetToken(context.Background(), "42", "tok"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	ts.sessions.SetSessionUser("sid-42", "42")
	return &http.Cookie{Name: CookieName, Value: "sid-42"}
}

func (ts *testServer) do(method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t).do(http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body)
	}
}

func TestGitHubAuthReturnsAuthorizeURL(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/github/auth", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp types.AuthURLResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, err := url.Parse(resp.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "github.com" || u.Query().Get("client_id") != "client" {
		t.Fatalf("unexpected authorize url %s", resp.URL)
	}
	if !ts.sessions.ConsumeOAuthState(u.Query().Get("state")) {
		t.Fatal("expected the state in the url to be registered")
	}
}

func TestGitHubAuthRequiresConfiguration(t *testing.T) {
	ts := newTestServer(t)
	ts.oauthCfg.ClientSecret = ""
	if rec := ts.do(http.MethodGet, "/api/github/auth", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGitHubCallbackStoresTokenAndSignsIn(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "the-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_token","token_type":"bearer"}`))
	}))
	defer tokenSrv.Close()

	ts := newTestServer(t)
	ts.oauthCfg.Endpoint = oauth2.Endpoint{AuthURL: tokenSrv.URL + "/authorize", TokenURL: tokenSrv.URL + "/token"}
	ts.sessions.AddOAuthState("state-1")

	rec := ts.do(http.MethodGet, "/api/github/callback?code=the-code&state=state-1", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "http://app.test?githubAuth=success" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if tok, err := ts.data.GetToken(context.Background(), "42"); err != nil || tok != "gho_token" {
		t.Fatalf("expected token stored under the github id, got %q, %v", tok, err)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected a session cookie")
	}
	status := ts.do(http.MethodGet, "/api/github/status", "", session)
	var resp types.StatusResponse
	if err := json.NewDecoder(status.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Authenticated || resp.UserID != "42" || resp.Username != "octo" {
		t.Fatalf("unexpected status %+v", resp)
	}

	if rec := ts.do(http.MethodGet, "/api/github/callback?code=the-code&state=state-1", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected a replayed state to be rejected, got %d", rec.Code)
	}
}

func TestGitHubStatusWithoutSession(t *testing.T) {
	rec := newTestServer(t).do(http.MethodGet, "/api/github/status", "", nil)
	var resp types.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Authenticated {
		t.Fatal("expected unauthenticated status")
	}
}

func TestGitHubStatusForgetsRevokedToken(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signIn(t)
	ts.Server.github = &fakeGitHub{err: &github.APIError{StatusCode: http.StatusUnauthorized, Path: "/user", Message: "Bad credentials"}}

	rec := ts.do(http.MethodGet, "/api/github/status", "", cookie)
	var resp types.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Authenticated {
		t.Fatalf("expected unauthenticated status, got %+v", resp)
	}
	if _, err := ts.data.GetToken(context.Background(), "42"); err == nil {
		t.Fatal("expected the rejected token to be deleted")
	}
}

func TestGitHubStatusKeepsTokenWhenGitHubIsDown(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signIn(t)
	ts.Server.github = &fakeGitHub{err: &github.APIError{StatusCode: http.StatusBadGateway, Path: "/user"}}

	rec := ts.do(http.MethodGet, "/api/github/status", "", cookie)
	var resp types.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Authenticated || resp.UserID != "42" || resp.Username != "" {
		t.Fatalf("unexpected status %+v", resp)
	}
	if _, err := ts.data.GetToken(context.Background(), "42"); err != nil {
		t.Fatalf("expected the token to be kept, got %v", err)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/delivery"},
		{http.MethodPut, "/api/delivery"},
		{http.MethodPost, "/api/runs"},
		{http.MethodPost, "/api/github/logout"},
	} {
		if rec := ts.do(route.method, route.path, "{}", nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", route.method, route.path, rec.Code)
		}
	}
}

func TestDeliverySettings(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signIn(t)

	tests := []struct {
		body string
		code int
		want string
	}{
		{body: `{"method":"discord:123456789"}`, code: http.StatusOK, want: "discord:123456789"},
		{body: `{"method":"discord"}`, code: http.StatusBadRequest, want: "discord:123456789"},
		{body: `{"method":"sms"}`, code: http.StatusBadRequest, want: "discord:123456789"},
		{body: `not json`, code: http.StatusBadRequest, want: "discord:123456789"},
		{body: `{"method":"email"}`, code: http.StatusOK, want: "email"},
	}
	for _, tt := range tests {
		rec := ts.do(http.MethodPut, "/api/delivery", tt.body, cookie)
		if rec.Code != tt.code {
			t.Fatalf("PUT %s: got %d, want %d", tt.body, rec.Code, tt.code)
		}
		got := ts.do(http.MethodGet, "/api/delivery", "", cookie)
		var resp types.DeliveryResponse
		if err := json.NewDecoder(got.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Method != tt.want {
			t.Fatalf("after PUT %s: method %q, want %q", tt.body, resp.Method, tt.want)
		}
	}
}

func TestTriggerRun(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signIn(t)

	rec := ts.do(http.MethodPost, "/api/runs", `{"testRun":true}`, cookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp types.RunResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ts.runs.Wait()

	if len(ts.runner.calls) != 1 {
		t.Fatalf("expected one run, got %d", len(ts.runner.calls))
	}
	call := ts.runner.calls[0]
	if call.UserID != "42" || !call.TestRun || call.RunID != resp.RunID || !strings.HasPrefix(call.RunID, "manual-") {
		t.Fatalf("unexpected params %+v", call)
	}

	if rec := ts.do(http.MethodPost, "/api/runs", "", cookie); rec.Code != http.StatusAccepted {
		t.Fatalf("expected an empty body to start a normal run, got %d", rec.Code)
	}
	ts.runs.Wait()
}

// blockingRunner holds every run until its context ends.
type blockingRunner struct {
	started chan pipeline.Params
	stopped chan error
}

func (b *blockingRunner) Run(ctx context.Context, p pipeline.Params) (pipeline.Result, error) {
	b.started <- p
	<-ctx.Done()
	b.stopped <- ctx.Err()
	return pipeline.Result{}, ctx.Err()
}

func TestTriggerRunRejectsConcurrentRunForSameUser(t *testing.T) {
	ts := newTestServer(t)
	runner := &blockingRunner{started: make(chan pipeline.Params, 2), stopped: make(chan error, 2)}
	ts.Server.runner = runner
	cookie := ts.signIn(t)

	if rec := ts.do(http.MethodPost, "/api/runs", "", cookie); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	<-runner.started

	if rec := ts.do(http.MethodPost, "/api/runs", "", cookie); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while the first run is going, got %d", rec.Code)
	}

	ts.sessions.SetSessionUser("sid-7", "7")
	other := &http.Cookie{Name: CookieName, Value: "sid-7"}
	if rec := ts.do(http.MethodPost, "/api/runs", "", other); rec.Code != http.StatusAccepted {
		t.Fatalf("expected another user to start a run, got %d", rec.Code)
	}
	<-runner.started

	ts.Close()
	for i := 0; i < 2; i++ {
		if err := <-runner.stopped; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected Close to cancel the run, got %v", err)
		}
	}
	if len(ts.active) != 0 {
		t.Fatalf("expected finished runs to release their users, %d still active", len(ts.active))
	}
}

func TestLogoutForgetsToken(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signIn(t)

	if rec := ts.do(http.MethodPost, "/api/github/logout", "", cookie); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := ts.data.GetToken(context.Background(), "42"); err == nil {
		t.Fatal("expected the token to be deleted")
	}
	if ts.sessions.GetSessionUser("sid-42") != "" {
		t.Fatal("expected the session to be cleared")
	}
}
