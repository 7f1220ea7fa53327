// Package httpapi reads a discussion from the platform REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conversa/internal/config"
	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	repos "conversa/internal/domain/repositories/discussion"
)

// Config holds the connection settings of the REST source
type Config struct {
	BaseURL      string
	DiscussionID string
	Token        string
	Timeout      time.Duration
	// MaxURLLength bounds id-bearing request URLs; longer id lists are split
	MaxURLLength int
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// Client implements the discussion Source over HTTP
type Client struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
}

var _ repos.Source = (*Client)(nil)

// NewClient creates a REST source. A zero Timeout or MaxURLLength takes the default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = config.MaxURLLength
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) endpoint(collection string) string {
	return fmt.Sprintf("%s/data/Discussion/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.DiscussionID), collection)
}

// FetchMessageStructures returns every message in structural form
func (c *Client) FetchMessageStructures(ctx context.Context) ([]*models.Message, error) {
	q := url.Values{"view": {string(models.ViewID)}}
	var messages []*models.Message
	if err := c.get(ctx, c.endpoint("posts")+"?"+q.Encode(), &messages); err != nil {
		return nil, err
	}
	return live(messages, models.DetailStructure), nil
}

// FetchMessagesByIDs returns the requested messages. Id lists that would push
// the URL past MaxURLLength are sent as several requests.
func (c *Client) FetchMessagesByIDs(ctx context.Context, ids []string, view models.ViewMode) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}
	detail := models.DetailFull
	if view == models.ViewID {
		detail = models.DetailStructure
	}

	out := make([]*models.Message, 0, len(ids))
	for _, rawURL := range c.splitIDQuery(c.endpoint("posts"), ids, view) {
		var page []*models.Message
		if err := c.get(ctx, rawURL, &page); err != nil {
			return nil, err
		}
		out = append(out, live(page, detail)...)
	}
	return out, nil
}

// splitIDQuery packs ids into as few URLs as MaxURLLength allows. A single
// id that alone exceeds the limit is still sent on its own.
func (c *Client) splitIDQuery(base string, ids []string, view models.ViewMode) []string {
	prefix := base + "?view=" + url.QueryEscape(string(view))
	var urls []string
	var b strings.Builder
	b.WriteString(prefix)
	count := 0
	for _, id := range ids {
		param := "&ids=" + url.QueryEscape(id)
		if count > 0 && b.Len()+len(param) > c.cfg.MaxURLLength {
			urls = append(urls, b.String())
			b.Reset()
			b.WriteString(prefix)
			count = 0
		}
		b.WriteString(param)
		count++
	}
	urls = append(urls, b.String())
	if len(urls) > 1 {
		c.logger.Debug("id query split", "ids", len(ids), "requests", len(urls))
	}
	return urls
}

// FetchIdeas returns the idea tree as a flat list
func (c *Client) FetchIdeas(ctx context.Context) ([]*models.Idea, error) {
	var ideas []*models.Idea
	if err := c.get(ctx, c.endpoint("ideas"), &ideas); err != nil {
		return nil, err
	}
	return ideas, nil
}

// FetchExtracts returns every extract of the discussion
func (c *Client) FetchExtracts(ctx context.Context) ([]*models.Extract, error) {
	var extracts []*models.Extract
	if err := c.get(ctx, c.endpoint("extracts"), &extracts); err != nil {
		return nil, err
	}
	return extracts, nil
}

// FetchUsers returns the participants of the discussion
func (c *Client) FetchUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := c.get(ctx, c.endpoint("all_users"), &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNotFound {
		return &domain.NotFoundError{Message: fmt.Sprintf("discussion %s not found", c.cfg.DiscussionID)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, URL: req.URL.Path, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// live drops tombstones and stamps the detail level of the projection
func live(messages []*models.Message, detail models.DetailLevel) []*models.Message {
	out := messages[:0]
	for _, m := range messages {
		if m == nil || m.Tombstone {
			continue
		}
		m.Detail = detail
		out = append(out, m)
	}
	return out
}
