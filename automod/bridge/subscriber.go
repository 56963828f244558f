package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Subscriber reads events from the transport process's WebSocket feed, redialing with backoff whenever the connection drops.
type Subscriber struct {
	// host, or full ws:// / wss:// URL of the feed
	Host   string
	Token  string
	Sink   Sink
	Dialer *websocket.Dialer
	Logger *slog.Logger

	// upper bound on the redial delay
	MaxBackoff time.Duration
}

func NewSubscriber(host, token string, sink Sink) *Subscriber {
	return &Subscriber{
		Host:       host,
		Token:      token,
		Sink:       sink,
		Dialer:     websocket.DefaultDialer,
		Logger:     slog.Default().With("system", "bridge-subscriber"),
		MaxBackoff: 30 * time.Second,
	}
}

const feedPath = "/v1/feed"

// feedURL turns a bare host or http(s) URL into the feed's ws(s) URL. Plain ws is only assumed for local hosts.
func feedURL(host string) (string, error) {
	if !strings.Contains(host, "://") {
		scheme := "wss://"
		hostname := strings.SplitN(host, ":", 2)[0]
		if hostname == "localhost" || strings.HasPrefix(host, "127.") || strings.HasPrefix(host, "[::1]") {
			scheme = "ws://"
		}
		host = scheme + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid feed host: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported feed scheme: %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = feedPath
	}
	return u.String(), nil
}

// Run dials and reads until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = s.MaxBackoff
	bo.MaxElapsedTime = 0

	header := http.Header{
		"User-Agent": []string{"guardbot"},
	}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}

	u, err := feedURL(s.Host)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		con, res, err := s.Dialer.DialContext(ctx, u, header)
		if err != nil {
			wait := bo.NextBackOff()
			s.Logger.Warn("dialing event feed failed", "host", s.Host, "err", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		s.Logger.Info("event feed connected", "code", res.StatusCode)
		bo.Reset()

		if err := s.handleConnection(ctx, con); err != nil {
			s.Logger.Warn("event feed connection failed", "host", s.Host, "err", err)
		}
	}
}

func (s *Subscriber) handleConnection(ctx context.Context, con *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// unblock ReadMessage on shutdown
	go func() {
		<-ctx.Done()
		con.Close()
	}()

	for {
		mt, msg, err := con.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from event feed: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.Logger.Warn("skipping malformed event", "err", err)
			continue
		}
		if err := s.Sink.Submit(ctx, env); err != nil {
			return fmt.Errorf("queueing event: %w", err)
		}
	}
}
