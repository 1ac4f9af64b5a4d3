// Package eventstore is the append-only sink/source for raw events and
// training samples, backed by OpenSearch. It owns no business logic:
// batch inserts, windowed aggregates, and time-range scans only.
package eventstore

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/cartpulse/cartpulse-stack/common/config"
)

// Client wraps the OpenSearch connection with the two indices the
// pipeline writes to.
type Client struct {
	client        *opensearch.Client
	eventsIndex   string
	trainingIndex string
}

// New creates a client and verifies connectivity. A failed ping is a
// fatal startup error for every service that depends on the event store.
func New(cfg config.OpenSearchConfig) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &Client{
		client:        client,
		eventsIndex:   cfg.EventsIndex,
		trainingIndex: cfg.TrainingIndex,
	}, nil
}

// Ping verifies the store is reachable; used by readiness probes.
func (c *Client) Ping() error {
	info, err := c.client.Info()
	if err != nil {
		return fmt.Errorf("opensearch unreachable: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}
	return nil
}

// EventsIndex returns the raw event index name.
func (c *Client) EventsIndex() string {
	return c.eventsIndex
}

// TrainingIndex returns the training sample index name.
func (c *Client) TrainingIndex() string {
	return c.trainingIndex
}
