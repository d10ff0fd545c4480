// Package source talks to the chat platform REST API that owns the
// conversations being cleaned up.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sweepbot/internal/model"
)

// Source is the set of chat platform calls the cleanup workflow relies on.
// Any call may fail with *model.RateLimitedError or *model.AuthTransientError.
type Source interface {
	ListPage(ctx context.Context, tenant string, page, pageSize int, status string) ([]model.Conversation, error)
	GetDetail(ctx context.Context, tenant, sessionID string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, tenant, sessionID string) error
	DeleteMessage(ctx context.Context, tenant, sessionID, fingerprint string) error
	PatchStatus(ctx context.Context, tenant, sessionID, status string) error
	SendMessage(ctx context.Context, tenant, sessionID, content string) error
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials authenticate the bot against the chat platform.
type Credentials struct {
	Identifier string
	Key        string
}

// Client is the HTTP implementation of Source.
type Client struct {
	client  HTTPClient
	baseURL string
	creds   Credentials
}

// New creates a Client for the API rooted at baseURL.
func New(client HTTPClient, baseURL string, creds Credentials) *Client {
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Error  bool            `json:"error"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

type wireMeta struct {
	Origin   string   `json:"origin"`
	Email    string   `json:"email"`
	Segments []string `json:"segments"`
}

type wireOperator struct {
	UserID string `json:"user_id"`
}

type wireConversation struct {
	SessionID   string         `json:"session_id"`
	State       string         `json:"state"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	Meta        wireMeta       `json:"meta"`
	LastMessage string         `json:"last_message"`
	Operators   []wireOperator `json:"participants"`
}

type wireMessage struct {
	Fingerprint json.Number     `json:"fingerprint"`
	Content     json.RawMessage `json:"content"`
	From        string          `json:"from"`
	Timestamp   int64           `json:"timestamp"`
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (w wireConversation) toModel() model.Conversation {
	conv := model.Conversation{
		SessionID: w.SessionID,
		Status:    w.State,
		CreatedAt: fromMillis(w.CreatedAt),
		UpdatedAt: fromMillis(w.UpdatedAt),
		Preview:   w.LastMessage,
		Meta: model.ConversationMeta{
			Origin: w.Meta.Origin,
			Email:  w.Meta.Email,
			Tags:   w.Meta.Segments,
		},
	}
	for _, op := range w.Operators {
		if op.UserID != "" {
			conv.Meta.Operators = append(conv.Meta.Operators, op.UserID)
		}
	}
	return conv
}

func (w wireMessage) toModel() model.Message {
	// Non-text messages (files, pickers) carry an object as content.
	var content string
	_ = json.Unmarshal(w.Content, &content)
	return model.Message{
		Fingerprint: w.Fingerprint.String(),
		Content:     content,
		From:        w.From,
		Timestamp:   fromMillis(w.Timestamp),
	}
}

// ListPage returns one page of conversations, newest first as ordered by the
// platform. An empty page marks the end of the list.
func (c *Client) ListPage(ctx context.Context, tenant string, page, pageSize int, status string) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))
	if status != "" {
		q.Set("filter_state", status)
	}
	path := fmt.Sprintf("/website/%s/conversations/%d?%s", url.PathEscape(tenant), page, q.Encode())

	var items []wireConversation
	if err := c.do(ctx, "list conversations", http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(items))
	for _, it := range items {
		out = append(out, it.toModel())
	}
	return out, nil
}

// GetDetail returns a conversation together with its messages.
func (c *Client) GetDetail(ctx context.Context, tenant, sessionID string) (model.Conversation, error) {
	base := conversationPath(tenant, sessionID)

	var wc wireConversation
	if err := c.do(ctx, "get conversation", http.MethodGet, base, nil, &wc); err != nil {
		return model.Conversation{}, err
	}
	var msgs []wireMessage
	if err := c.do(ctx, "get messages", http.MethodGet, base+"/messages", nil, &msgs); err != nil {
		return model.Conversation{}, err
	}

	conv := wc.toModel()
	if conv.SessionID == "" {
		conv.SessionID = sessionID
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, m.toModel())
	}
	return conv, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (c *Client) DeleteConversation(ctx context.Context, tenant, sessionID string) error {
	return c.do(ctx, "delete conversation", http.MethodDelete, conversationPath(tenant, sessionID), nil, nil)
}

// DeleteMessage removes a single message from a conversation.
func (c *Client) DeleteMessage(ctx context.Context, tenant, sessionID, fingerprint string) error {
	path := conversationPath(tenant, sessionID) + "/message/" + url.PathEscape(fingerprint)
	return c.do(ctx, "delete message", http.MethodDelete, path, nil, nil)
}

// PatchStatus changes the state of a conversation.
func (c *Client) PatchStatus(ctx context.Context, tenant, sessionID, status string) error {
	body := map[string]string{"state": status}
	return c.do(ctx, "patch status", http.MethodPatch, conversationPath(tenant, sessionID)+"/state", body, nil)
}

// SendMessage posts a text message as an operator.
func (c *Client) SendMessage(ctx context.Context, tenant, sessionID, content string) error {
	body := map[string]string{
		"type":    "text",
		"from":    "operator",
		"origin":  "chat",
		"content": content,
	}
	return c.do(ctx, "send message", http.MethodPost, conversationPath(tenant, sessionID)+"/message", body, nil)
}

func conversationPath(tenant, sessionID string) string {
	return fmt.Sprintf("/website/%s/conversation/%s", url.PathEscape(tenant), url.PathEscape(sessionID))
}

// do performs a request and decodes the data field of the envelope into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.SetBasicAuth(c.creds.Identifier, c.creds.Key)
	req.Header.Set("User-Agent", "SweepBot/1.0")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &model.UpstreamError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return &model.UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if err := statusError(op, path, resp.StatusCode, env.Reason); err != nil {
		return err
	}
	if decodeErr != nil {
		if len(bytes.TrimSpace(raw)) == 0 && out == nil {
			return nil
		}
		return &model.UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if env.Error {
		return &model.UpstreamError{Op: op, Status: resp.StatusCode, Err: errors.New(env.Reason)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &model.UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// statusError maps non-2xx responses onto the error taxonomy.
func statusError(op, path string, status int, reason string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	cause := errors.New(reason)
	switch status {
	case http.StatusTooManyRequests:
		return &model.RateLimitedError{Op: op, Err: cause}
	case http.StatusUnauthorized:
		return &model.AuthTransientError{Op: op, Err: cause}
	case http.StatusNotFound:
		return &model.NotFoundError{Kind: "resource", ID: path}
	default:
		return &model.UpstreamError{Op: op, Status: status, Err: cause}
	}
}
