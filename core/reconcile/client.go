package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// State is the client's connection state. The reconnect policy is
// deliberately simple: a fixed-interval retry timer, cancelled only by
// intentional teardown.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
)

const defaultRetryInterval = 2 * time.Second

type ClientOption func(*Client)

// WithRetryInterval overrides the fixed reconnect backoff.
func WithRetryInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.retryInterval = interval
		}
	}
}

// WithEventCallback observes every event after it is merged into the
// projection.
func WithEventCallback(fn func(events.Event)) ClientOption {
	return func(c *Client) { c.onEvent = fn }
}

// WithHTTPClient overrides the snapshot-fetching client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.http = httpClient }
}

// Client is an observer of one call session. It subscribes over websocket,
// merges the event stream into its projection, and on every (re)connect
// refetches the authoritative snapshot before trusting further increments.
type Client struct {
	baseURL string
	callID  string

	projection    *Projection
	retryInterval time.Duration
	dialer        *websocket.Dialer
	http          *http.Client
	onEvent       func(events.Event)

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	topics []string
}

func NewClient(baseURL, callID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		callID:        callID,
		projection:    NewProjection(callID),
		retryInterval: defaultRetryInterval,
		dialer:        websocket.DefaultDialer,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		state:  StateDisconnected,
		topics: []string{callID},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Projection returns the client's view of the session.
func (c *Client) Projection() *Projection {
	return c.projection
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Subscribe adds another topic the session is addressable by (typically
// the transport room name) and, when connected, requests it immediately.
// The send is fire-and-forget: the client does not wait for an
// acknowledgment.
func (c *Client) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.topics {
		if existing == topic {
			return nil
		}
	}
	c.topics = append(c.topics, topic)

	if c.conn == nil {
		return nil
	}
	return c.sendSubscribeLocked(topic)
}

func (c *Client) sendSubscribeLocked(topic string) error {
	raw, err := events.Encode(events.NewSubscribeCall(topic))
	if err != nil {
		return fmt.Errorf("failed to encode subscribe request: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to send subscribe request: %w", err)
	}
	return nil
}

// Run connects and streams until ctx is cancelled, reconnecting on any
// connection failure after the fixed retry interval.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectAndStream(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("session stream interrupted", "call_id", c.callID, "error", err.Error())
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(c.retryInterval):
		}
	}
}

func (c *Client) connectAndStream(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.websocketURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to open session stream: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	topics := append([]string{}, c.topics...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop on intentional teardown.
	streamDone := make(chan struct{})
	defer close(streamDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-streamDone:
		}
	}()

	for _, topic := range topics {
		c.mu.Lock()
		err := c.sendSubscribeLocked(topic)
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	// Resubscribing alone cannot recover events missed while disconnected;
	// only the authoritative snapshot can. Without it the projection could
	// serve stale state indefinitely, so a failed fetch fails the whole
	// connect attempt and the retry loop redoes the cycle.
	if err := c.fetchSnapshot(ctx); err != nil {
		return fmt.Errorf("failed to reconcile snapshot: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("session stream closed: %w", err)
		}
		event, err := events.Decode(raw)
		if err != nil {
			logger.Debug("dropped undecodable event", "call_id", c.callID, "error", err.Error())
			continue
		}
		c.projection.Apply(event)
		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}

func (c *Client) fetchSnapshot(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.snapshotURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build snapshot request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// Session not known yet; the implicit-creation event will arrive.
		return nil
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected snapshot status %d", res.StatusCode)
	}

	var snapshot session.CallSession
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	c.projection.Replace(snapshot)
	return nil
}

func (c *Client) websocketURL() string {
	url := c.baseURL + "/ws"
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (c *Client) snapshotURL() string {
	return c.baseURL + "/calls/" + c.callID + "/snapshot"
}
