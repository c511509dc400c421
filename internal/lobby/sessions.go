package lobby

import "sync"

// SessionTable maps logged-in usernames to their live sessions so
// start-game broadcasts can reach players other than the requester.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session)}
}

// Bind points username at sess, displacing any previous binding.
func (t *SessionTable) Bind(username string, sess *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[username] = sess
}

// Lookup returns the session currently bound to username.
func (t *SessionTable) Lookup(username string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[username]
	return sess, ok
}

// Unbind removes the entry only while it still points at sess, so a
// dying session cannot evict the reconnect that replaced it.
func (t *SessionTable) Unbind(username string, sess *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[username] == sess {
		delete(t.sessions, username)
	}
}

// Count returns the number of bound sessions.
func (t *SessionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
