package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// historyClient fetches a conversation from the REST collaborator.
type historyClient struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

func (h *historyClient) fetch(ctx context.Context, peerID string) ([]Message, error) {
	endpoint := h.baseURL.JoinPath("api", "messages", "with", peerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %d", resp.StatusCode)
	}

	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// socketURL maps the http(s) base onto the ws(s) route carrying the token.
func socketURL(base *url.URL, route, token string) string {
	u := *base.JoinPath(route)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}
