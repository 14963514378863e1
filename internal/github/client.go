// Package github implements the repository search/metadata source
// against the GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trendfeed/pipeline/internal/trend"
)

// ErrMissingToken is returned when the client is constructed without a
// personal access token. This is a configuration-fatal condition.
var ErrMissingToken = errors.New("github token is not set")

// Config captures the parameters required to talk to the GitHub API.
type Config struct {
	Token     string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client is a thin authenticated JSON client over the GitHub REST API.
type Client struct {
	token     string
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient validates the config and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "trendfeed-pipeline/1.0"
	}
	return &Client{
		token:     cfg.Token,
		baseURL:   baseURL,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

type searchResponse struct {
	Items []struct {
		ID       int64  `json:"id"`
		FullName string `json:"full_name"`
	} `json:"items"`
}

// SearchRepositories returns one page of repositories matching the query,
// most-starred first. An empty slice signals the end of pagination.
func (c *Client) SearchRepositories(ctx context.Context, query trend.SearchQuery, page int) ([]trend.RepoSummary, error) {
	q := fmt.Sprintf("stars:>=%d created:>=%s", query.MinStars, query.CreatedAfter.Format("2006-01-02"))
	path := fmt.Sprintf("/search/repositories?q=%s&sort=stars&order=desc&per_page=%d&page=%d",
		url.QueryEscape(q), query.PerPage, page)

	var result searchResponse
	status, err := c.getJSON(ctx, path, nil, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search repositories: unexpected status %d", status)
	}

	out := make([]trend.RepoSummary, 0, len(result.Items))
	for _, item := range result.Items {
		if item.FullName == "" {
			continue
		}
		out = append(out, trend.RepoSummary{ID: item.ID, FullName: item.FullName})
	}
	return out, nil
}

type repoResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stargazers_count"`
	CreatedAt   string `json:"created_at"`
	PushedAt    string `json:"pushed_at"`
	UpdatedAt   string `json:"updated_at"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// FetchRepository fetches current metadata for one repository.
func (c *Client) FetchRepository(ctx context.Context, fullName string) (trend.Repo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return trend.Repo{}, err
	}

	var meta repoResponse
	status, err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), nil, &meta)
	if err != nil {
		return trend.Repo{}, err
	}
	if status == http.StatusNotFound {
		return trend.Repo{}, fmt.Errorf("repository %s not found", fullName)
	}
	if status != http.StatusOK {
		return trend.Repo{}, fmt.Errorf("fetch repository %s: unexpected status %d", fullName, status)
	}

	return trend.Repo{
		ID:          meta.ID,
		FullName:    meta.FullName,
		Name:        meta.Name,
		OwnerLogin:  meta.Owner.Login,
		HTMLURL:     meta.HTMLURL,
		Description: meta.Description,
		Language:    meta.Language,
		StarCount:   meta.Stars,
		CreatedAt:   parseTime(meta.CreatedAt),
		PushedAt:    parseTime(meta.PushedAt),
		UpdatedAt:   parseTime(meta.UpdatedAt),
	}, nil
}

type readmeResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// FetchReadme performs a conditional GET for the repository README.
// A 304 (unchanged) or 404 (no README) yields Fresh=false with no error;
// only a fresh body decodes into Text.
func (c *Client) FetchReadme(ctx context.Context, fullName, etag string) (trend.ReadmeResult, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return trend.ReadmeResult{}, err
	}

	headers := http.Header{}
	if etag != "" {
		headers.Set("If-None-Match", etag)
	}

	var body readmeResponse
	var respETag string
	status, err := c.do(ctx, fmt.Sprintf("/repos/%s/%s/readme", owner, name), headers, func(resp *http.Response) error {
		respETag = resp.Header.Get("ETag")
		return json.NewDecoder(resp.Body).Decode(&body)
	})
	if err != nil {
		return trend.ReadmeResult{}, err
	}
	if status == http.StatusNotModified || status == http.StatusNotFound {
		return trend.ReadmeResult{}, nil
	}
	if status != http.StatusOK {
		return trend.ReadmeResult{}, fmt.Errorf("fetch readme %s: unexpected status %d", fullName, status)
	}

	text := ""
	if body.Content != "" && strings.EqualFold(body.Encoding, "base64") {
		// GitHub base64-wraps content with embedded newlines.
		raw, decodeErr := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
		if decodeErr != nil {
			return trend.ReadmeResult{}, fmt.Errorf("decode readme %s: %w", fullName, decodeErr)
		}
		text = string(raw)
	}

	return trend.ReadmeResult{
		Fresh: true,
		Text:  text,
		SHA:   body.SHA,
		ETag:  respETag,
	}, nil
}

// getJSON issues a GET and decodes a JSON body for 2xx responses.
// 304 and 404 are passed through as statuses without touching out.
func (c *Client) getJSON(ctx context.Context, path string, headers http.Header, out any) (int, error) {
	return c.do(ctx, path, headers, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) do(ctx context.Context, path string, headers http.Header, decode func(*http.Response) error) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("github GET %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotModified || resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("github GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if decode != nil {
		if err := decode(resp); err != nil {
			return resp.StatusCode, fmt.Errorf("decode github response %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func splitFullName(fullName string) (string, string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("full name %q must be owner/repo", fullName)
	}
	return owner, name, nil
}

func parseTime(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}
	}
	return t
}
