package courts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Lookup answers whether a court exists and what it is called. The
// coordinator treats every failure mode identically, so implementations
// collapse transport errors into found=false.
type Lookup interface {
	Exists(ctx context.Context, courtID string) (found bool, name string, err error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type courtResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Exists calls GET {baseURL}/api/courts/{id} on the courts service. A 404
// means the court does not exist; any other non-2xx status or transport
// error is returned so the caller can log it, but found is always false.
func (c *Client) Exists(ctx context.Context, courtID string) (bool, string, error) {
	endpoint := fmt.Sprintf("%s/api/courts/%s", c.baseURL, url.PathEscape(courtID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("courts service returned status %d", resp.StatusCode)
	}

	var court courtResponse
	if err := json.NewDecoder(resp.Body).Decode(&court); err != nil {
		return false, "", fmt.Errorf("failed to decode court response: %w", err)
	}

	return true, court.Name, nil
}
