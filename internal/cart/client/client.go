// Package client talks to a cart server over HTTP and WebSocket. A Client
// can back a reconcile.Reconciler in place of the in-process store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/cart/server"
	"go.uber.org/zap"
)

// StatusError is returned for a non-2xx response whose code is not mapped
// to a known error.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// Config holds client configuration.
type Config struct {
	// HTTPClient for REST calls (default: 10s timeout)
	HTTPClient *http.Client

	// Logger for client activity (default: no-op)
	Logger *zap.Logger
}

// Client is a cart server client acting as one user.
type Client struct {
	base   *url.URL
	user   string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for the server at baseURL acting as userID.
func New(baseURL, userID string, config *Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if config == nil {
		config = &Config{}
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Client{
		base:   u,
		user:   userID,
		http:   config.HTTPClient,
		logger: config.Logger.Named("client"),
	}, nil
}

// User returns the acting user's ID.
func (c *Client) User() string {
	return c.user
}

// FetchItems returns a group's items, newest first.
func (c *Client) FetchItems(ctx context.Context, groupID string) ([]schema.Item, error) {
	var items []schema.Item
	err := c.do(ctx, c.user, http.MethodGet, groupPath(groupID, "items"), nil, &items)
	return items, err
}

// AddItem creates an item in a group.
func (c *Client) AddItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error) {
	var item schema.Item
	err := c.do(ctx, c.user, http.MethodPost, groupPath(groupID, "items"),
		server.AddItemRequest{Name: name, Icon: icon, Category: category}, &item)
	return item, err
}

// SetCompleted updates an item's completion flag.
func (c *Client) SetCompleted(ctx context.Context, id string, completed bool) error {
	return c.do(ctx, c.user, http.MethodPatch, "/items/"+url.PathEscape(id),
		server.SetCompletedRequest{Completed: completed}, nil)
}

// DeleteItem removes an item. Deleting a missing item succeeds.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, c.user, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil)
}

// DeleteCompleted removes a group's completed items.
func (c *Client) DeleteCompleted(ctx context.Context, groupID string) error {
	return c.do(ctx, c.user, http.MethodDelete, groupPath(groupID, "items")+"?completed=true", nil, nil)
}

// DeleteAll removes every item in a group.
func (c *Client) DeleteAll(ctx context.Context, groupID string) error {
	return c.do(ctx, c.user, http.MethodDelete, groupPath(groupID, "items"), nil, nil)
}

// ImportItems writes items into a group, keeping their IDs and timestamps.
func (c *Client) ImportItems(ctx context.Context, groupID string, items []schema.Item) (int, error) {
	var resp server.ImportResponse
	if err := c.do(ctx, c.user, http.MethodPost, groupPath(groupID, "import"), items, &resp); err != nil {
		return 0, err
	}
	return resp.Written, nil
}

// CreateGroup creates a group owned by ownerID.
func (c *Client) CreateGroup(ctx context.Context, name, ownerID string) (schema.Group, error) {
	var g schema.Group
	err := c.do(ctx, ownerID, http.MethodPost, "/groups", server.CreateGroupRequest{Name: name}, &g)
	return g, err
}

// GetGroup returns a group the client's user belongs to.
func (c *Client) GetGroup(ctx context.Context, groupID string) (schema.Group, error) {
	var g schema.Group
	err := c.do(ctx, c.user, http.MethodGet, groupPath(groupID, ""), nil, &g)
	return g, err
}

// ListUserGroups returns userID's groups, newest first.
func (c *Client) ListUserGroups(ctx context.Context, userID string) ([]schema.Group, error) {
	var groups []schema.Group
	err := c.do(ctx, userID, http.MethodGet, "/groups", nil, &groups)
	return groups, err
}

// JoinGroup makes userID a member of groupID.
func (c *Client) JoinGroup(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, userID, http.MethodPost, groupPath(groupID, "members"), server.AddMemberRequest{}, nil)
}

// ListMembers returns a group's members, owner first.
func (c *Client) ListMembers(ctx context.Context, groupID string) ([]schema.Member, error) {
	var members []schema.Member
	err := c.do(ctx, c.user, http.MethodGet, groupPath(groupID, "members"), nil, &members)
	return members, err
}

// AddMember adds userID to a group on behalf of the client's user.
func (c *Client) AddMember(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, c.user, http.MethodPost, groupPath(groupID, "members"), server.AddMemberRequest{UserID: userID}, nil)
}

// RemoveMember removes userID from a group.
func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, c.user, http.MethodDelete, groupPath(groupID, "members/"+url.PathEscape(userID)), nil, nil)
}

// UpsertUserProfile creates or updates p.
func (c *Client) UpsertUserProfile(ctx context.Context, p schema.UserProfile) error {
	return c.do(ctx, p.ID, http.MethodPut, "/users/"+url.PathEscape(p.ID), p, nil)
}

// ListUsers returns every user profile.
func (c *Client) ListUsers(ctx context.Context) ([]schema.UserProfile, error) {
	var users []schema.UserProfile
	err := c.do(ctx, c.user, http.MethodGet, "/users", nil, &users)
	return users, err
}

func groupPath(groupID, rest string) string {
	p := "/groups/" + url.PathEscape(groupID)
	if rest != "" {
		p += "/" + rest
	}
	return p
}

// do sends a JSON request as user and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, user, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(server.HeaderUser, user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError maps an error response back to the server's error values.
func decodeError(resp *http.Response) error {
	var body server.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil {
		body.Error = strings.TrimSpace(string(data))
	}

	if sentinel := server.CodeError(body.Code); sentinel != nil {
		if body.Error == "" || body.Error == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w (%s)", sentinel, body.Error)
	}
	return &StatusError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
