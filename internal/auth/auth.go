// Package auth models the authentication state the sync machinery reacts
// to. The daemon does not verify credentials itself; it consumes state
// transitions (sign-in, token refresh, sign-out) and fans them out to the
// components that need to start or stop per-account work.
package auth

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kithapp/kith/internal/common"
)

// Phase is the coarse authentication phase.
type Phase string

const (
	PhaseNotAuthenticated Phase = "not_authenticated"
	PhaseAuthenticated    Phase = "authenticated"
	PhaseRefreshing       Phase = "refreshing"
)

// State is one authentication snapshot. AccountID is empty exactly when
// Phase is PhaseNotAuthenticated.
type State struct {
	Phase     Phase
	AccountID string
}

// NotAuthenticated returns the signed-out state.
func NotAuthenticated() State {
	return State{Phase: PhaseNotAuthenticated}
}

// Authenticated returns the signed-in state for accountID.
func Authenticated(accountID string) State {
	return State{Phase: PhaseAuthenticated, AccountID: accountID}
}

// Refreshing returns the token-refresh state for accountID. The session
// is still considered live.
func Refreshing(accountID string) State {
	return State{Phase: PhaseRefreshing, AccountID: accountID}
}

const subscriptionBuffer = 16

// Broadcaster fans authentication state out to named subscribers and
// remembers the latest state so late subscribers catch up immediately.
type Broadcaster struct {
	mu      sync.Mutex
	current State
	subs    map[string]chan State
	closed  bool
}

// NewBroadcaster returns a Broadcaster in the signed-out state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current: NotAuthenticated(),
		subs:    make(map[string]chan State),
	}
}

// Subscribe registers a named subscriber and immediately replays the
// current state on the returned channel. Subscribing an existing name
// returns the existing channel.
func (b *Broadcaster) Subscribe(name string) <-chan State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan State, subscriptionBuffer)
	b.subs[name] = ch
	ch <- b.current
	return ch
}

// Unsubscribe removes a named subscriber and closes its channel.
// Unknown names are a no-op.
func (b *Broadcaster) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish records state as current and delivers it to every subscriber.
// A subscriber that has fallen subscriptionBuffer states behind loses
// the oldest delivery rather than blocking the publisher.
func (b *Broadcaster) Publish(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.current = state
	for _, ch := range b.subs {
		select {
		case ch <- state:
		default:
			// drop the oldest without blocking; the subscriber may have
			// drained the buffer since the failed send
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// Current returns the latest published state.
func (b *Broadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// CurrentAccountID returns the signed-in account id, or
// common.ErrorUnauthenticated when no session is live.
func (b *Broadcaster) CurrentAccountID() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current.AccountID == "" {
		return "", common.ErrorUnauthenticated
	}
	return b.current.AccountID, nil
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subs {
		delete(b.subs, name)
		close(ch)
	}
}

// AccountIDFromToken extracts the subject claim from a JWT without
// verifying the signature. Verification is the remote store's job; the
// daemon only needs a stable account id to key its work on.
func AccountIDFromToken(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject: %w", common.ErrorUnauthenticated)
	}
	return sub, nil
}
