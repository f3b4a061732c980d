// Package notes is the HTTP client for note CRUD. The realtime channel
// broadcasts edits; this client is where durable state lives, and it is
// also the fallback path when a save must happen while the channel is
// down.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/collabnotes/collabnotes.go/pkg/logger"
)

var (
	// ErrNotFound is returned for unknown note ids.
	ErrNotFound = errors.New("notes: note not found")
	// ErrUnauthorized is returned when the token is missing or rejected.
	ErrUnauthorized = errors.New("notes: unauthorized")
)

// Folder groups notes; notes without one have a nil Folder.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Note is the durable server-side document.
type Note struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
	Folder    *Folder `json:"folder,omitempty"`
}

// CreateRequest creates a note.
type CreateRequest struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	FolderID *string `json:"folderId,omitempty"`
}

// UpdateRequest patches a note; nil fields are left untouched.
type UpdateRequest struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	FolderID *string `json:"folderId,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Count   int             `json:"count,omitempty"`
}

// TokenSource supplies the bearer token per request, so a refreshed
// login is picked up without rebuilding the client.
type TokenSource func() string

// StaticToken adapts a fixed token to a TokenSource.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// Client talks to the /notes endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
	token   TokenSource
	log     logger.Logger
}

type Option func(*Client)

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   http.DefaultClient,
		token:   token,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns all notes of the current user.
func (c *Client) List(ctx context.Context) ([]Note, error) {
	return c.listPath(ctx, "/notes")
}

// Search returns notes whose title or content match the query.
func (c *Client) Search(ctx context.Context, query string) ([]Note, error) {
	return c.listPath(ctx, "/notes?search="+url.QueryEscape(query))
}

// ListByFolder returns the notes in one folder.
func (c *Client) ListByFolder(ctx context.Context, folderID string) ([]Note, error) {
	return c.listPath(ctx, "/notes?folderId="+url.QueryEscape(folderID))
}

func (c *Client) listPath(ctx context.Context, path string) ([]Note, error) {
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	// The list endpoint wraps its payload once more than the others.
	var wrapped struct {
		Data []Note `json:"data"`
	}
	if err := json.Unmarshal(env.Data, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var out []Note
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("notes: decoding list: %w", err)
	}
	return out, nil
}

// Get fetches one note by id.
func (c *Client) Get(ctx context.Context, id string) (Note, error) {
	env, err := c.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil)
	if err != nil {
		return Note{}, err
	}
	return decodeNote(env)
}

// Create stores a new note and returns it with server-assigned fields.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Note, error) {
	env, err := c.do(ctx, http.MethodPost, "/notes", req)
	if err != nil {
		return Note{}, err
	}
	return decodeNote(env)
}

// Update patches a note. It is the REST fallback for saves when the
// realtime channel is unavailable.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (Note, error) {
	env, err := c.do(ctx, http.MethodPut, "/notes/"+url.PathEscape(id), req)
	if err != nil {
		return Note{}, err
	}
	return decodeNote(env)
}

// Delete removes a note.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (envelope, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, fmt.Errorf("notes: encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, fmt.Errorf("notes: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("notes: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("notes: decoding %s %s response: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return envelope{}, fmt.Errorf("%w: %s", ErrNotFound, env.errorMessage())
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return envelope{}, fmt.Errorf("%w: %s", ErrUnauthorized, env.errorMessage())
	case resp.StatusCode >= 400 || !env.Success:
		return envelope{}, fmt.Errorf("notes: %s %s failed: %s", method, path, env.errorMessage())
	}
	return env, nil
}

func decodeNote(env envelope) (Note, error) {
	var n Note
	if err := json.Unmarshal(env.Data, &n); err != nil {
		return Note{}, fmt.Errorf("notes: decoding note: %w", err)
	}
	return n, nil
}

func (e envelope) errorMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "unknown error"
}
