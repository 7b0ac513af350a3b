package httpstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sethvargo/go-retry"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/remote"
)

const (
	watchEventBuffer = 64

	// redial backoff for a dropped watch connection
	redialBase = 500 * time.Millisecond
	redialCap  = 10 * time.Second
)

type watchSubscription struct {
	store  *Store
	events chan remote.Event
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (w *watchSubscription) Events() <-chan remote.Event { return w.events }
func (w *watchSubscription) Errors() <-chan error        { return w.errs }

func (w *watchSubscription) Stop() {
	w.once.Do(func() {
		w.store.mu.Lock()
		delete(w.store.subs, w)
		w.store.mu.Unlock()

		w.cancel()
		w.wg.Wait()
		close(w.events)
		close(w.errs)
	})
}

// Watch opens a websocket change stream for the collection query. The
// connection redials with capped fibonacci backoff until Stop is called;
// the server replays nothing, so deltas lost during a redial are
// recovered by the next full sync.
func (s *Store) Watch(ctx context.Context, collection string, q remote.Query) (remote.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("watch %s: store is closed: %w", collection, common.ErrorRemoteUnavailable)
	}
	s.mu.Unlock()

	wctx, cancel := context.WithCancel(context.Background())
	sub := &watchSubscription{
		store:  s,
		events: make(chan remote.Event, watchEventBuffer),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	u := fmt.Sprintf("%s/v1/watch?%s", s.baseURL, url.Values{
		"collection": {collection},
		"field":      {q.Field},
		"op":         {string(q.Op)},
		"value":      {fmt.Sprint(q.Value)},
	}.Encode())

	// Fail fast when the stream cannot be opened at all; later drops are
	// handled by the redial loop.
	conn, err := s.dialWatch(ctx, u)
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		// Close ran while dialing
		s.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("watch %s: store is closed: %w", collection, common.ErrorRemoteUnavailable)
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.wg.Add(1)
	go s.run(wctx, sub, u, conn)
	return sub, nil
}

func (s *Store) dialWatch(ctx context.Context, u string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + s.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open watch: %w", err)
	}
	return conn, nil
}

func (s *Store) run(ctx context.Context, sub *watchSubscription, u string, conn *websocket.Conn) {
	defer sub.wg.Done()

	for {
		err := s.read(ctx, sub, conn)
		conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn(ctx, "watch connection lost", "error", err)
		select {
		case sub.errs <- err:
		default:
		}

		conn = s.redial(ctx, u)
		if conn == nil {
			return
		}
	}
}

// read pumps deltas from the connection into the subscription until the
// connection fails or the subscription stops.
func (s *Store) read(ctx context.Context, sub *watchSubscription, conn *websocket.Conn) error {
	for {
		var ev remote.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}
		select {
		case sub.events <- ev:
		default:
			// a stalled consumer loses the delta, like the real stream
		}
	}
}

// redial reconnects with capped fibonacci backoff, returning nil when the
// subscription stopped first.
func (s *Store) redial(ctx context.Context, u string) *websocket.Conn {
	backoff := retry.WithCappedDuration(redialCap, retry.NewFibonacci(redialBase))
	for {
		wait, _ := backoff.Next()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		conn, err := s.dialWatch(ctx, u)
		if err == nil {
			s.logger.Info(ctx, "watch connection restored")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn(ctx, "watch redial failed", "error", err)
	}
}
