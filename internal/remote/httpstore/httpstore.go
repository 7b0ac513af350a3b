// Package httpstore implements remote.Store against the document-store
// HTTP API, with change subscriptions carried over websocket.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/remote"
)

const requestTimeout = 15 * time.Second

// Store talks to the remote document store over HTTP.
type Store struct {
	baseURL string
	token   string
	client  *http.Client
	logger  logging.Logger

	mu     sync.Mutex
	subs   map[*watchSubscription]struct{}
	closed bool
}

// New returns a Store for the API at baseURL, authenticating every
// request with the bearer token.
func New(baseURL, token string, logger logging.Logger) *Store {
	return &Store{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		subs:    make(map[*watchSubscription]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	var doc remote.Document
	if err := s.do(ctx, http.MethodGet, s.docURL(collection, id), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc remote.Document) error {
	return s.do(ctx, http.MethodPut, s.docURL(collection, id), doc, nil)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields remote.Document) error {
	return s.do(ctx, http.MethodPatch, s.docURL(collection, id), fields, nil)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.do(ctx, http.MethodDelete, s.docURL(collection, id), nil, nil)
}

func (s *Store) Query(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	var docs []remote.Document
	u := fmt.Sprintf("%s/v1/%s/query", s.baseURL, url.PathEscape(collection))
	if err := s.do(ctx, http.MethodPost, u, q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) BatchWrite(ctx context.Context, ops []remote.BatchOp) error {
	body := struct {
		Ops []remote.BatchOp `json:"ops"`
	}{Ops: ops}
	return s.do(ctx, http.MethodPost, s.baseURL+"/v1/batch", body, nil)
}

// Close stops every open subscription and releases client resources.
// Further Watch calls are rejected.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*watchSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) docURL(collection, id string) string {
	return fmt.Sprintf("%s/v1/%s/%s", s.baseURL, url.PathEscape(collection), url.PathEscape(id))
}

// do performs one request, decoding a JSON response into out when out is
// non-nil. Transport failures map to common.ErrorRemoteUnavailable and
// HTTP error statuses to the matching sentinels.
func (s *Store) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, u, common.ErrorRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(method, u, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w: %w", common.ErrorDecode, err)
	}
	return nil
}

func statusError(method, u string, code int) error {
	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = common.ErrorNotFound
	case http.StatusConflict:
		sentinel = common.ErrorAlreadyExists
	case http.StatusUnauthorized:
		sentinel = common.ErrorUnauthenticated
	case http.StatusForbidden:
		sentinel = common.ErrorForbidden
	default:
		sentinel = common.ErrorRemoteUnavailable
	}
	return fmt.Errorf("%s %s: status %d: %w", method, u, code, sentinel)
}
