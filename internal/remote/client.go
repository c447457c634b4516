// Package remote reads and writes occurrence reports in the shared
// realtime database over its REST interface.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fentz26/recontrole/internal/models"
)

// DefaultReportsPath is the collection holding reports.
const DefaultReportsPath = "reports"

var (
	// ErrNotFound is returned when a report does not exist remotely.
	ErrNotFound = errors.New("report not found")
	// ErrNotAuthor is returned when a user tries to change someone else's report.
	ErrNotAuthor = errors.New("report belongs to another user")
	// ErrUnauthenticated is returned when the remote rejects the credentials.
	ErrUnauthenticated = errors.New("remote rejected credentials")
)

// Source is the read side the monitor depends on.
type Source interface {
	// FetchAuthored returns every report whose author equals author.
	// Malformed records are skipped, not fatal.
	FetchAuthored(ctx context.Context, author string) ([]models.Incident, error)
}

// TokenSource supplies the bearer credential for requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewReport holds the user-provided fields of a report.
type NewReport struct {
	Category    string
	Location    string
	Description string
	Photo       string
}

// Validate checks the required fields.
func (r NewReport) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(r.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(r.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Client talks to the realtime database REST endpoint.
type Client struct {
	baseURL     string
	reportsPath string
	tokens      TokenSource
	http        *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithReportsPath overrides the reports collection path.
func WithReportsPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.reportsPath = strings.Trim(path, "/")
		}
	}
}

// WithTokenSource authenticates requests with the given token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for skipped records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the database at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		reportsPath: DefaultReportsPath,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default().With("component", "remote"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAll returns every well-formed report in the collection.
func (c *Client) FetchAll(ctx context.Context) ([]models.Incident, error) {
	body, err := c.do(ctx, http.MethodGet, c.reportsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch reports: %w", err)
	}

	incidents, skipped, err := ParseSnapshot(body)
	if err != nil {
		return nil, err
	}
	for _, e := range skipped {
		c.logger.WarnContext(ctx, "skipping malformed report", "error", e)
	}
	return incidents, nil
}

// FetchAuthored returns the reports created by author. The collection is
// read in full and filtered locally.
func (c *Client) FetchAuthored(ctx context.Context, author string) ([]models.Incident, error) {
	all, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Incident, 0, len(all))
	for _, inc := range all {
		if inc.Author == author {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Get returns one report or ErrNotFound.
func (c *Client) Get(ctx context.Context, id string) (*models.Incident, error) {
	body, err := c.do(ctx, http.MethodGet, c.reportPath(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, ErrNotFound
	}
	inc, err := ParseRecord(id, body)
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return &inc, nil
}

// Create stores a new PENDING report authored by author and returns it.
func (c *Client) Create(ctx context.Context, author string, r NewReport) (*models.Incident, error) {
	if author == "" {
		return nil, ErrUnauthenticated
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	now := c.now()
	payload := map[string]wireContent{"content": encodeContent(author, r, now)}
	body, err := c.do(ctx, http.MethodPost, c.reportsPath, payload)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	var created struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	if created.Name == "" {
		return nil, errors.New("create report: empty id in response")
	}

	return &models.Incident{
		ID:          created.Name,
		Status:      models.StatusPending,
		Category:    r.Category,
		Location:    r.Location,
		Author:      author,
		Description: r.Description,
		Photo:       r.Photo,
		CreatedAt:   time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// SoftDelete marks a report deleted after checking userID authored it.
func (c *Client) SoftDelete(ctx context.Context, id, userID string) error {
	inc, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if inc.Author != userID {
		return ErrNotAuthor
	}

	patch := map[string]interface{}{
		"deleted":   true,
		"deletedAt": c.now().UnixMilli(),
		"deletedBy": userID,
	}
	if _, err := c.do(ctx, http.MethodPatch, c.reportPath(id)+"/content", patch); err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	return nil
}

func (c *Client) reportPath(id string) string {
	return c.reportsPath + "/" + url.PathEscape(id)
}

// do performs a request against <base>/<path>.json and returns the body.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	endpoint, err := url.Parse(c.baseURL + "/" + path + ".json")
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		q := endpoint.Query()
		q.Set("auth", token)
		endpoint.RawQuery = q.Encode()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
