// Package bridge connects the moderation core to an external chat transport process over HTTP and WebSocket.
//
// The transport process (which owns the chat connection) pushes events to [Server] or serves them on a WebSocket feed read by [Subscriber], and exposes a small JSON API which [Client] calls to carry out side effects.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Client implements [transport.Transport] against the transport process API.
type Client struct {
	Host string
	// sent as a bearer token, if set
	Token  string
	Client *http.Client
	// outbound calls are throttled; the chat network bans accounts which act too fast
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// NewClient returns a Client allowing rps calls per second (with a small burst). The HTTP client retries only briefly, since side effects are already retried by the engine.
func NewClient(host, token string, rps float64) *Client {
	hc := util.RetryingHTTPClient(1, 200*time.Millisecond, 2*time.Second, slog.Default())
	hc.Transport = otelhttp.NewTransport(hc.Transport)
	return &Client{
		Host:    strings.TrimSuffix(host, "/"),
		Token:   token,
		Client:  hc,
		Limiter: rate.NewLimiter(rate.Limit(rps), 5),
		Logger:  slog.Default().With("system", "bridge-client"),
	}
}

type deleteMessageRequest struct {
	Group     ident.Identity `json:"group"`
	MessageID string         `json:"messageId"`
}

type removeParticipantRequest struct {
	Group  ident.Identity `json:"group"`
	Member ident.Identity `json:"member"`
}

type sendTextRequest struct {
	To   ident.Identity `json:"to"`
	Text string         `json:"text"`
}

type adminsOnlyRequest struct {
	Group ident.Identity `json:"group"`
	On    bool           `json:"on"`
}

type listGroupsResponse struct {
	Groups []ident.Identity `json:"groups"`
}

// APIError is a non-2xx response from the transport process.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transport API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, group ident.Identity, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/messages/delete", deleteMessageRequest{Group: group, MessageID: messageID}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, group, member ident.Identity) error {
	return c.do(ctx, http.MethodPost, "/v1/participants/remove", removeParticipantRequest{Group: group, Member: member}, nil)
}

func (c *Client) SendText(ctx context.Context, to ident.Identity, text string) error {
	return c.do(ctx, http.MethodPost, "/v1/messages/send", sendTextRequest{To: to, Text: text}, nil)
}

func (c *Client) SetAdminsOnly(ctx context.Context, group ident.Identity, on bool) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/admins-only", adminsOnlyRequest{Group: group, On: on}, nil)
}

func (c *Client) GroupInfo(ctx context.Context, group ident.Identity) (*transport.GroupInfo, error) {
	var info transport.GroupInfo
	if err := c.do(ctx, http.MethodGet, "/v1/groups/"+url.PathEscape(group.String()), nil, &info); err != nil {
		return nil, err
	}
	for i, p := range info.Participants {
		info.Participants[i].ID = ident.Normalize(p.ID.String())
	}
	return &info, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]ident.Identity, error) {
	var out listGroupsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/groups", nil, &out); err != nil {
		return nil, err
	}
	groups := make([]ident.Identity, 0, len(out.Groups))
	for _, g := range out.Groups {
		if n := ident.Normalize(g.String()); !n.IsEmpty() {
			groups = append(groups, n)
		}
	}
	return groups, nil
}
