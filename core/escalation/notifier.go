package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/villagehq/village-core/core/session"
	"github.com/villagehq/village-core/core/village"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Notifier delivers an escalation notification to one village member's
// channel. A nil error means the channel acknowledged the dispatch, not
// that the member responded.
type Notifier interface {
	Notify(ctx context.Context, member village.Member, concern session.Concern) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, member village.Member, concern session.Concern) error

func (f NotifierFunc) Notify(ctx context.Context, member village.Member, concern session.Concern) error {
	return f(ctx, member, concern)
}

// HTTPNotifier posts notification requests to an outbound messaging
// service and treats a non-ok API envelope as a dispatch failure.
type HTTPNotifier struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

type notifyRequest struct {
	MemberID    string `json:"member_id"`
	MemberName  string `json:"member_name"`
	Phone       string `json:"phone"`
	ConcernID   string `json:"concern_id"`
	Dimension   string `json:"dimension"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

func (n *HTTPNotifier) Notify(ctx context.Context, member village.Member, concern session.Concern) error {
	client := n.HTTP
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if n.BaseURL == "" {
		return fmt.Errorf("missing notifier base url")
	}

	body, err := json.Marshal(notifyRequest{
		MemberID:    member.ID,
		MemberName:  member.Name,
		Phone:       member.Phone,
		ConcernID:   concern.ID,
		Dimension:   concern.Dimension,
		Severity:    concern.Severity,
		Description: concern.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/notify", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach notification channel: %w", err)
	}
	defer res.Body.Close()

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("failed to decode notification response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "notification api error"
		}
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
