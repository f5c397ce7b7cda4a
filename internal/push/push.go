package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"Lifeline/internal/models"
	"Lifeline/pkg/logger"

	"go.uber.org/zap"
)

// SubscriptionStore is the slice of the store the sender needs.
type SubscriptionStore interface {
	PushSubscriptions(ctx context.Context, userIDs []uint) ([]models.PushSubscription, error)
	DisablePushSubscriptions(ctx context.Context, userID uint, endpoint string) error
}

// Notification is the payload handed to the push gateway. Data carries the
// emergency context so the client can deep-link into the alert.
type Notification struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Tag   string                 `json:"tag,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Result records a single delivery attempt.
type Result struct {
	UserID   uint
	Endpoint string
	Err      error
}

// Sender delivers a notification to every enabled subscription of the given
// users. Delivery is best-effort; failures come back as Results, never as a
// top-level error.
type Sender interface {
	Notify(ctx context.Context, userIDs []uint, n Notification) []Result
}

// GatewaySender posts web-push deliveries to an external gateway that owns
// the VAPID keys and the browser endpoints. Endpoints the gateway reports as
// gone are disabled in the store so they are not retried forever.
type GatewaySender struct {
	baseURL string
	apiKey  string
	client  *http.Client
	store   SubscriptionStore
}

func NewGatewaySender(baseURL, apiKey string, timeout time.Duration, s SubscriptionStore) *GatewaySender {
	return &GatewaySender{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		store:   s,
	}
}

type gatewayRequest struct {
	Subscription gatewaySubscription `json:"subscription"`
	Notification Notification        `json:"notification"`
}

type gatewaySubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}

func (g *GatewaySender) Notify(ctx context.Context, userIDs []uint, n Notification) []Result {
	if g == nil || g.baseURL == "" {
		return nil
	}

	subs, err := g.store.PushSubscriptions(ctx, userIDs)
	if err != nil {
		logger.Error("failed to load push subscriptions", zap.Error(err))
		return nil
	}

	results := make([]Result, 0, len(subs))
	for _, sub := range subs {
		err := g.deliver(ctx, sub, n)
		if err != nil {
			logger.Warn("push delivery failed",
				zap.Uint("user_id", sub.UserID),
				zap.Error(err))
		}
		results = append(results, Result{UserID: sub.UserID, Endpoint: sub.Endpoint, Err: err})
	}
	return results
}

func (g *GatewaySender) deliver(ctx context.Context, sub models.PushSubscription, n Notification) error {
	body, err := json.Marshal(gatewayRequest{
		Subscription: gatewaySubscription{
			Endpoint: sub.Endpoint,
			Keys:     map[string]string{"p256dh": sub.P256DH, "auth": sub.Auth},
		},
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach push gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The browser dropped the subscription; stop sending to it.
		if derr := g.store.DisablePushSubscriptions(ctx, sub.UserID, sub.Endpoint); derr != nil {
			logger.Error("failed to disable dead push subscription", zap.Error(derr))
		}
		return fmt.Errorf("subscription gone (status %d)", resp.StatusCode)
	default:
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
}
