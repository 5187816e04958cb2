// pkg/apiclient/session.go
package apiclient

import "sync"

// TokenPair is the credential set a session holds. RefreshToken may be empty
// when the backend never issued one.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionStore is the host-owned token holder. The client never persists
// credentials itself; cookie vs. keychain vs. memory is the host's decision.
//
// Tokens must be cheap to call on every request. SetTokens must be idempotent.
// Logout must not panic; the client invokes it exactly once per failed refresh.
type SessionStore interface {
	Tokens() TokenPair
	SetTokens(TokenPair)
	Logout()
}

// MemorySessionStore is a mutex-guarded in-process SessionStore.
type MemorySessionStore struct {
	mu   sync.RWMutex
	pair TokenPair
}

func NewMemorySessionStore(pair TokenPair) *MemorySessionStore {
	return &MemorySessionStore{pair: pair}
}

func (s *MemorySessionStore) Tokens() TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *MemorySessionStore) SetTokens(p TokenPair) {
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
}

func (s *MemorySessionStore) Logout() {
	s.mu.Lock()
	s.pair = TokenPair{}
	s.mu.Unlock()
}
