package aed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"Lifeline/pkg/cache"
)

// AED is one defibrillator location returned by the index.
type AED struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
	Distance    float64 `json:"distance,omitempty"`
}

// Index finds the k nearest facilities to a coordinate. Implementations are
// black boxes with bounded latency; callers treat failure as an empty list.
type Index interface {
	FindNearest(ctx context.Context, lat, lng float64, k int) ([]AED, error)
}

// HTTPIndex talks to the external AED index service.
type HTTPIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   cache.Cache
}

// cacheTTL keeps repeated raises from the same block off the index.
const cacheTTL = 5 * time.Minute

func NewHTTPIndex(baseURL, apiKey string, timeout time.Duration, c cache.Cache) *HTTPIndex {
	return &HTTPIndex{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		cache:   c,
	}
}

func (h *HTTPIndex) FindNearest(ctx context.Context, lat, lng float64, k int) ([]AED, error) {
	key := cacheKey(lat, lng, k)
	if h.cache != nil {
		if v, ok := h.cache.Get(ctx, key); ok {
			if cached, ok := v.([]AED); ok {
				return cached, nil
			}
		}
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("k", strconv.Itoa(k))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/aeds/nearest?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query aed index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aed index returned status %d", resp.StatusCode)
	}

	var out []AED
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode aed response: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Set(ctx, key, out, cacheTTL)
	}
	return out, nil
}

// cacheKey buckets coordinates to ~100m so nearby raises share entries.
func cacheKey(lat, lng float64, k int) string {
	return fmt.Sprintf("aed:%.3f:%.3f:%d", lat, lng, k)
}
