// Package webhook ships audit events to an external collector in batches.
// Batches go out when they fill up, on a background interval, and on close.
// It is delivery-only; queries go to the sqlite store.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// envelope is the POST body. The collector sees who sent the batch and
// how large it is without parsing the events.
type envelope struct {
	Source string        `json:"source"`
	SentAt time.Time     `json:"sentAt"`
	Count  int           `json:"count"`
	Events []types.Event `json:"events"`
}

type Store struct {
	url       string
	batchSize int
	timeout   time.Duration
	headers   map[string]string

	client *http.Client

	mu     sync.Mutex
	buf    []types.Event
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(url string, batchSize int, flushInterval time.Duration, timeout time.Duration, headers map[string]string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hcopy := map[string]string{}
	for k, v := range headers {
		hcopy[k] = v
	}
	s := &Store{
		url:       url,
		batchSize: batchSize,
		timeout:   timeout,
		headers:   hcopy,
		client:    &http.Client{Timeout: timeout},
		done:      make(chan struct{}),
	}

	// Idle buffers drain on the interval, not only on the next append.
	s.wg.Add(1)
	go s.flushLoop(flushInterval)
	return s, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("webhook store closed")
	}
	s.buf = append(s.buf, ev)
	var batch []types.Event
	if len(s.buf) >= s.batchSize {
		batch = s.buf
		s.buf = nil
	}
	s.mu.Unlock()

	if batch == nil {
		return nil
	}
	return s.deliver(ctx, batch)
}

func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("webhook store does not support queries")
}

// Close stops the flush loop and delivers whatever is still buffered.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.deliver(ctx, batch)
}

func (s *Store) flushLoop(interval time.Duration) {
	defer s.wg.Done()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-tick.C:
			s.mu.Lock()
			batch := s.buf
			s.buf = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := s.deliver(ctx, batch); err != nil {
				slog.Warn("webhook interval flush failed", "count", len(batch), "err", err)
			}
			cancel()
		}
	}
}

func (s *Store) deliver(ctx context.Context, batch []types.Event) error {
	b, err := json.Marshal(envelope{
		Source: "cmdgate",
		SentAt: time.Now().UTC(),
		Count:  len(batch),
		Events: batch,
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cmdgate")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
