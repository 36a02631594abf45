package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// DefaultTimeout bounds a remote resolution.
const DefaultTimeout = 10 * time.Second

// Client calls a remote resolver service's GET /api/resolve endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a remote resolver client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Resolve asks the remote service to resolve input. The service answers
// 200 with {ok:false, message} for names it cannot resolve.
func (c *Client) Resolve(ctx context.Context, input string) (trustroute.Resolution, error) {
	endpoint := c.baseURL + "/api/resolve?input=" + url.QueryEscape(input)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return trustroute.Resolution{}, fmt.Errorf("failed to create resolve request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return trustroute.Resolution{}, fmt.Errorf("failed to call resolve endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return trustroute.Resolution{}, fmt.Errorf("resolve returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var res trustroute.Resolution
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return trustroute.Resolution{}, fmt.Errorf("failed to decode resolve response: %w", err)
	}

	if res.OK && !trustroute.IsAddress(res.Address) {
		return trustroute.Resolution{OK: false, Message: "Resolver returned an invalid address"}, nil
	}

	return res, nil
}
