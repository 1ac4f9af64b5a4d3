package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/cartpulse/cartpulse-stack/common/models"
)

// BulkInsertEvents appends a batch of raw events in one bulk request.
// Raw events are indexed with auto-generated document ids: duplicates
// from at-least-once redelivery are expected and tolerated by readers,
// never deduplicated by the store. Any per-item failure makes the whole
// call fail so the caller can dead-letter the entire batch.
func (c *Client) BulkInsertEvents(ctx context.Context, events []models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		failed   int
		firstErr string
	)

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: c.client,
		Index:  c.eventsIndex,
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			mu.Lock()
			failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("marshal event %s: %v", event.EventID, err)
			}
			mu.Unlock()
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(data),
			OnFailure: func(_ context.Context, _ opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				defer mu.Unlock()
				failed++
				if firstErr != "" {
					return
				}
				if err != nil {
					firstErr = err.Error()
				} else {
					firstErr = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
				}
			},
		})
		if err != nil {
			mu.Lock()
			failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("add to bulk indexer: %v", err)
			}
			mu.Unlock()
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}

	if failed > 0 {
		return fmt.Errorf("bulk insert: %d of %d events failed: %s", failed, len(events), firstErr)
	}
	return nil
}

// BulkInsertSamples writes training samples in one bulk request. Samples
// use their deterministic sample id as the document id, so re-running a
// generator range overwrites the previous samples instead of duplicating
// them. Returns the number of samples accepted by the store.
func (c *Client) BulkInsertSamples(ctx context.Context, samples []models.TrainingSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		indexed  int
		failed   int
		firstErr string
	)

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: c.client,
		Index:  c.trainingIndex,
	})
	if err != nil {
		return 0, fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, sample := range samples {
		data, err := json.Marshal(sample)
		if err != nil {
			mu.Lock()
			failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("marshal sample %s: %v", sample.SampleID, err)
			}
			mu.Unlock()
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: sample.SampleID,
			Body:       bytes.NewReader(data),
			OnSuccess: func(_ context.Context, _ opensearchutil.BulkIndexerItem, _ opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				indexed++
				mu.Unlock()
			},
			OnFailure: func(_ context.Context, _ opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				defer mu.Unlock()
				failed++
				if firstErr != "" {
					return
				}
				if err != nil {
					firstErr = err.Error()
				} else {
					firstErr = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
				}
			},
		})
		if err != nil {
			mu.Lock()
			failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("add to bulk indexer: %v", err)
			}
			mu.Unlock()
		}
	}

	if err := bi.Close(ctx); err != nil {
		return indexed, fmt.Errorf("bulk insert samples: %w", err)
	}

	if failed > 0 {
		return indexed, fmt.Errorf("bulk insert samples: %d of %d failed: %s", failed, len(samples), firstErr)
	}
	return indexed, nil
}
