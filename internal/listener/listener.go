// Package listener manages the remote change subscriptions that keep the
// local cache hot between full syncs. Subscriptions follow the
// authentication state: sign-in opens the per-account watches, sign-out
// tears them down, and an account switch does both atomically.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/kithapp/kith/internal/auth"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/remote"
)

// resubscribeGuard rejects a same-account subscribe attempt arriving
// within this window of the previous subscription start, absorbing rapid
// duplicate auth-state signals without subscription churn.
const resubscribeGuard = time.Second

// Applier consumes one change-stream delta.
type Applier interface {
	ApplyRemoteEvent(ctx context.Context, ev remote.Event) error
}

// Manager owns the per-account change subscriptions: the account document
// itself plus relationships from both directions. Deltas are applied
// through the services' last-write-wins path.
type Manager struct {
	store         remote.Store
	accounts      Applier
	relationships Applier
	logger        logging.Logger

	mu         sync.Mutex
	generation int
	accountID  string
	subs       []remote.Subscription
	deliveryWG sync.WaitGroup
	lastUpdate time.Time

	lastSubAccount string
	lastSubStart   time.Time

	runWG sync.WaitGroup
	once  sync.Once
	quit  chan struct{}
}

func NewManager(store remote.Store, accounts, relationships Applier, logger logging.Logger) *Manager {
	return &Manager{
		store:         store,
		accounts:      accounts,
		relationships: relationships,
		logger:        logger,
		quit:          make(chan struct{}),
	}
}

// Start consumes authentication states until Stop is called or the
// channel closes.
func (m *Manager) Start(states <-chan auth.State) {
	m.runWG.Add(1)
	go func() {
		defer m.runWG.Done()
		for {
			select {
			case <-m.quit:
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				m.apply(st)
			}
		}
	}()
}

// Stop tears every subscription down and stops consuming states.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.quit) })
	m.runWG.Wait()
	m.teardown()
}

// LastUpdate returns the time the most recent delta was applied.
func (m *Manager) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

func (m *Manager) apply(st auth.State) {
	ctx := context.Background()
	switch st.Phase {
	case auth.PhaseAuthenticated, auth.PhaseRefreshing:
		m.mu.Lock()
		same := m.accountID == st.AccountID && len(m.subs) > 0
		m.mu.Unlock()
		if same {
			// a token refresh for the live account changes nothing
			return
		}
		m.teardown()
		m.subscribe(ctx, st.AccountID)
	case auth.PhaseNotAuthenticated:
		m.teardown()
	}
}

func (m *Manager) subscribe(ctx context.Context, accountID string) {
	m.mu.Lock()
	if m.lastSubAccount == accountID && time.Since(m.lastSubStart) < resubscribeGuard {
		m.mu.Unlock()
		m.logger.Debug(ctx, "resubscribe rejected inside guard window", "account_id", accountID)
		return
	}
	m.lastSubAccount = accountID
	m.lastSubStart = time.Now()
	m.generation++
	gen := m.generation
	m.accountID = accountID
	m.mu.Unlock()

	watches := []struct {
		collection string
		query      remote.Query
	}{
		{remote.CollectionAccounts, remote.Query{Field: "id", Op: remote.OpEqual, Value: accountID}},
		{remote.CollectionRelationships, remote.Query{Field: "ownerID", Op: remote.OpEqual, Value: accountID}},
		{remote.CollectionRelationships, remote.Query{Field: "counterpartID", Op: remote.OpEqual, Value: accountID}},
	}

	var subs []remote.Subscription
	for _, w := range watches {
		sub, err := m.store.Watch(ctx, w.collection, w.query)
		if err != nil {
			m.logger.Error(ctx, "failed to open watch",
				"collection", w.collection, "field", w.query.Field, "error", err)
			continue
		}
		subs = append(subs, sub)
		m.deliveryWG.Add(1)
		go m.deliver(gen, w.collection, sub)
	}

	m.mu.Lock()
	m.subs = subs
	m.mu.Unlock()
	m.logger.Info(ctx, "change listeners attached", "account_id", accountID, "watches", len(subs))
}

// teardown stops every subscription and waits for in-flight deliveries to
// drain, so no delta lands after it returns.
func (m *Manager) teardown() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.generation++
	account := m.accountID
	m.accountID = ""
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	for _, sub := range subs {
		sub.Stop()
	}
	m.deliveryWG.Wait()
	m.logger.Info(context.Background(), "change listeners detached", "account_id", account)
}

func (m *Manager) deliver(gen int, collection string, sub remote.Subscription) {
	defer m.deliveryWG.Done()
	ctx := context.Background()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.mu.Lock()
			stale := gen != m.generation
			m.mu.Unlock()
			if stale {
				// the delta belongs to a torn-down subscription
				continue
			}
			if err := m.applyEvent(ctx, collection, ev); err != nil {
				m.logger.Error(ctx, "failed to apply delta",
					"collection", collection, "doc_id", ev.ID, "error", err)
				continue
			}
			m.mu.Lock()
			m.lastUpdate = time.Now()
			m.mu.Unlock()
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			m.logger.Error(ctx, "subscription error", "collection", collection, "error", err)
		}
	}
}

func (m *Manager) applyEvent(ctx context.Context, collection string, ev remote.Event) error {
	switch collection {
	case remote.CollectionAccounts:
		return m.accounts.ApplyRemoteEvent(ctx, ev)
	case remote.CollectionRelationships:
		return m.relationships.ApplyRemoteEvent(ctx, ev)
	default:
		return nil
	}
}
