package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL)
}

func TestGetUserSendsTokenAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		fmt.Fprint(w, `{"id": 42, "login": "octocat"}`)
	})

	u, err := c.GetUser(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 42 || u.Login != "octocat" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestGetUserUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})

	_, err := c.GetUser(context.Background(), "revoked")
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bad credentials" {
		t.Fatalf("expected GitHub message to be kept, got %v", err)
	}
}

func TestListPublicEventsPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/octocat/events/public" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("per_page"); got != "100" {
			t.Errorf("unexpected per_page %q", got)
		}
		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", `<https://api.github.com/user/1/events/public?page=2>; rel="next", <https://api.github.com/user/1/events/public?page=3>; rel="last"`)
		}
		fmt.Fprint(w, `[{"id":"1","type":"PushEvent","repo":{"name":"octocat/hello"},"payload":{"ref":"refs/heads/main","head":"c1","before":"b1"},"created_at":"2026-10-16T10:00:00Z"}]`)
	})

	page, err := c.ListPublicEvents(context.Background(), "tok", "octocat", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.HasNext || len(page.Events) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	push, err := page.Events[0].Push()
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	if push.Ref != "refs/heads/main" || push.Head != "c1" || push.Before != "b1" {
		t.Fatalf("unexpected payload %+v", push)
	}

	last, err := c.ListPublicEvents(context.Background(), "tok", "octocat", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last.HasNext {
		t.Fatalf("expected no next page without a Link header")
	}
}

func TestGetDiffUsesCompareOrCommit(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		wantPath string
	}{
		{name: "compare", base: "aaa", wantPath: "/repos/octocat/hello/compare/aaa...bbb"},
		{name: "new branch", base: "0000000000000000000000000000000000000000", wantPath: "/repos/octocat/hello/commits/bbb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("got path %s, want %s", r.URL.Path, tt.wantPath)
				}
				if got := r.Header.Get("Accept"); got != "application/vnd.github.diff" {
					t.Errorf("unexpected accept header %q", got)
				}
				fmt.Fprint(w, "diff --git a/x b/x\n")
			})
			diff, err := c.GetDiff(context.Background(), "tok", "octocat/hello", tt.base, "bbb")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff != "diff --git a/x b/x\n" {
				t.Fatalf("unexpected diff %q", diff)
			}
		})
	}
}

func TestGetDiffRejectsInvalidRepo(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:0")
	if _, err := c.GetDiff(context.Background(), "tok", "no-slash", "a", "b"); err == nil {
		t.Fatal("expected invalid repo error")
	}
}

func TestPrimaryVerifiedEmail(t *testing.T) {
	emails := []Email{
		{Email: "old@example.com", Primary: false, Verified: true},
		{Email: "unverified@example.com", Primary: true, Verified: false},
	}
	if _, ok := PrimaryVerifiedEmail(emails); ok {
		t.Fatal("expected no primary verified email")
	}
	emails = append(emails, Email{Email: "me@example.com", Primary: true, Verified: true})
	got, ok := PrimaryVerifiedEmail(emails)
	if !ok || got != "me@example.com" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestParseLinkNext(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "empty", header: "", want: ""},
		{name: "next and last", header: `<https://x/?page=2>; rel="next", <https://x/?page=3>; rel="last"`, want: "https://x/?page=2"},
		{name: "only prev", header: `<https://x/?page=1>; rel="prev"`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLinkNext(tt.header); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
