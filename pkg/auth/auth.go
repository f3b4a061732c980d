// Package auth is the HTTP client for account endpoints and token
// handling. Tokens are opaque bearer credentials to the rest of the
// client; ParseIdentity peeks at the JWT payload purely for display,
// verification is the server's job.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collabnotes/collabnotes.go/pkg/logger"
)

// ErrUnauthorized is returned for rejected credentials or tokens.
var ErrUnauthorized = errors.New("auth: unauthorized")

// User is the account identity returned by the server.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
}

// Credentials authenticate an existing account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration creates a new account.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is a successful authentication result.
type Session struct {
	Token string
	User  User
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// Client talks to the /auth endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     logger.Logger

	// onToken is invoked with each freshly issued token so callers can
	// persist it.
	onToken func(token string)
}

type Option func(*Client)

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTokenSink registers a callback receiving every issued token.
func WithTokenSink(fn func(token string)) Option {
	return func(c *Client) { c.onToken = fn }
}

// NewClient builds an auth client for the API base URL, e.g.
// "http://localhost:5000/api".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   http.DefaultClient,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token and the account identity.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// Register creates an account; the server issues a token immediately.
func (c *Client) Register(ctx context.Context, reg Registration) (Session, error) {
	return c.authenticate(ctx, "/auth/register", reg)
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (Session, error) {
	env, status, err := c.post(ctx, path, payload)
	if err != nil {
		return Session{}, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return Session{}, fmt.Errorf("%w: %s", ErrUnauthorized, env.errorMessage())
	}
	if status >= 400 || !env.Success {
		return Session{}, fmt.Errorf("auth: %s failed: %s", path, env.errorMessage())
	}

	// The token arrives at the top level; older server versions nest it
	// in data alongside the user.
	var data struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Session{}, fmt.Errorf("auth: decoding %s response: %w", path, err)
		}
	}
	token := env.Token
	if token == "" {
		token = data.Token
	}

	if c.onToken != nil && token != "" {
		c.onToken(token)
	}
	c.log.Info("authenticated", "username", data.User.Username)
	return Session{Token: token, User: data.User}, nil
}

// Me fetches the identity behind a token, which doubles as token
// validation.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return User{}, fmt.Errorf("auth: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("auth: requesting /auth/me: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return User{}, fmt.Errorf("auth: decoding /auth/me response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return User{}, fmt.Errorf("%w: %s", ErrUnauthorized, env.errorMessage())
	}
	if resp.StatusCode >= 400 || !env.Success {
		return User{}, fmt.Errorf("auth: /auth/me failed: %s", env.errorMessage())
	}

	var user User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		return User{}, fmt.Errorf("auth: decoding user: %w", err)
	}
	return user, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (envelope, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("auth: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return envelope{}, 0, fmt.Errorf("auth: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("auth: requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, 0, fmt.Errorf("auth: decoding %s response: %w", path, err)
	}
	return env, resp.StatusCode, nil
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

// Identity is the subset of JWT claims the client displays.
type Identity struct {
	UserID   string
	Username string
	Email    string
}

// ParseIdentity extracts identity claims from a token without
// verifying its signature. The client has no signing key; the server
// re-validates the token on every request anyway.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("auth: parsing token: %w", err)
	}

	id := Identity{
		UserID:   claimString(claims, "id", "userId", "sub"),
		Username: claimString(claims, "username"),
		Email:    claimString(claims, "email"),
	}
	if id.UserID == "" {
		return Identity{}, errors.New("auth: token carries no user id claim")
	}
	return id, nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
