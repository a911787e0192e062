package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseAPI = "https://api.github.com"
	userAgent      = "dailybugs (+https://github.com/KTibow/daily-bugs)"
	// EventsPerPage is the largest page the public events endpoint serves.
	EventsPerPage = 100
	zeroSHA       = "0000000000000000000000000000000000000000"
)

// API is the subset of the GitHub REST API the pipeline and the OAuth
// callback depend on. Every call is authorized with the user's own token.
type API interface {
	GetUser(ctx context.Context, token string) (User, error)
	ListEmails(ctx context.Context, token string) ([]Email, error)
	ListPublicEvents(ctx context.Context, token, username string, page int) (EventsPage, error)
	GetDiff(ctx context.Context, token, repo, base, head string) (string, error)
}

// APIClient implements API using direct GitHub REST API calls.
type APIClient struct {
	httpClient *http.Client
	baseAPI    string
}

// NewAPIClient returns a REST client. An empty baseAPI targets api.github.com.
func NewAPIClient(baseAPI string) *APIClient {
	if baseAPI == "" {
		baseAPI = defaultBaseAPI
	}
	return &APIClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseAPI:    strings.TrimRight(baseAPI, "/"),
	}
}

// ---- Helpers ----

func (c *APIClient) do(ctx context.Context, token, method, path, accept string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseAPI+path, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return c.httpClient.Do(req)
}

func (c *APIClient) getJSON(ctx context.Context, token, path string, out any) (http.Header, error) {
	resp, err := c.do(ctx, token, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.Header, nil
}

func splitRepo(repo string) (string, string, error) {
	ownerRepo := strings.Split(repo, "/")
	if len(ownerRepo) != 2 || ownerRepo[0] == "" || ownerRepo[1] == "" {
		return "", "", fmt.Errorf("invalid repo: %s", repo)
	}
	return ownerRepo[0], ownerRepo[1], nil
}

// ---- Implementations ----

func (c *APIClient) GetUser(ctx context.Context, token string) (User, error) {
	var u User
	if _, err := c.getJSON(ctx, token, "/user", &u); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(u.Login) == "" {
		return User{}, fmt.Errorf("github api /user returned no login")
	}
	return u, nil
}

func (c *APIClient) ListEmails(ctx context.Context, token string) ([]Email, error) {
	var emails []Email
	if _, err := c.getJSON(ctx, token, "/user/emails", &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ListPublicEvents fetches one page (1-based) of the user's public events,
// newest first.
func (c *APIClient) ListPublicEvents(ctx context.Context, token, username string, page int) (EventsPage, error) {
	qv := url.Values{}
	qv.Set("per_page", strconv.Itoa(EventsPerPage))
	qv.Set("page", strconv.Itoa(page))
	path := fmt.Sprintf("/users/%s/events/public?%s", url.PathEscape(username), qv.Encode())
	var events []Event
	header, err := c.getJSON(ctx, token, path, &events)
	if err != nil {
		return EventsPage{}, err
	}
	return EventsPage{
		Events:  events,
		HasNext: parseLinkNext(header.Get("Link")) != "",
	}, nil
}

// GetDiff returns the unified diff between base and head. A zero base sha
// (a newly created ref) has nothing to compare against, so the diff of the
// head commit alone is returned instead.
func (c *APIClient) GetDiff(ctx context.Context, token, repo, base, head string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	var path string
	if base == "" || base == zeroSHA {
		path = fmt.Sprintf("/repos/%s/%s/commits/%s", owner, name, head)
	} else {
		path = fmt.Sprintf("/repos/%s/%s/compare/%s...%s", owner, name, base, head)
	}
	resp, err := c.do(ctx, token, http.MethodGet, path, "application/vnd.github.diff", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp, path)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read diff %s: %w", path, err)
	}
	return string(b), nil
}

// PrimaryVerifiedEmail picks the address GitHub marks both primary and
// verified. ok is false when there is none.
func PrimaryVerifiedEmail(emails []Email) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified && strings.TrimSpace(e.Email) != "" {
			return e.Email, true
		}
	}
	return "", false
}

// parseLinkNext extracts the rel="next" URL from an RFC 5988 Link header.
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(strings.TrimSpace(part), ";")
		if len(segments) < 2 {
			continue
		}
		link := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(link, "<") || !strings.HasSuffix(link, ">") {
			continue
		}
		for _, param := range segments[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return link[1 : len(link)-1]
			}
		}
	}
	return ""
}
