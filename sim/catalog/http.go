package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neuron-sim/neuron-sim/sim"
)

// HTTPCatalog fetches synaptome details from a model service:
// GET <BaseURL>/<escaped model ref> with the caller's bearer token.
type HTTPCatalog struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPCatalog creates an HTTPCatalog with a bounded client timeout.
func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// FetchSynaptomeDetails implements Catalog.
func (c *HTTPCatalog) FetchSynaptomeDetails(ctx context.Context, modelRef, token string) (*sim.SynaptomeDetails, error) {
	endpoint := c.BaseURL + "/" + url.PathEscape(modelRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", modelRef, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, modelRef)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching %s: catalog returned %s: %s", modelRef, resp.Status, strings.TrimSpace(string(body)))
	}

	var details sim.SynaptomeDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decoding details of %s: %w", modelRef, err)
	}
	if details.BaseModelRef == "" {
		return nil, fmt.Errorf("details of %s have no base_model_self", modelRef)
	}
	return &details, nil
}
