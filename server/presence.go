/******************************************************************************
 *
 *  Description :
 *
 *    Presence registry: the authoritative in-memory mapping of user ids to
 *    their live sessions. A user with several devices/tabs open has several
 *    sessions in the set but appears online once.
 *
 *****************************************************************************/

package main

import (
	"sort"
	"sync"
)

// PresenceRegistry maps a user id to the set of live sessions bound to it.
// Mutated only by the connection lifecycle entry points on Hub; the event
// router reads it.
type PresenceRegistry struct {
	lock sync.Mutex

	// user id -> session id -> session
	online map[string]map[string]*Session
}

// NewPresenceRegistry initializes an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		online: make(map[string]map[string]*Session),
	}
}

// add binds a session to a user. Adding the same session twice is a no-op.
func (pr *PresenceRegistry) add(uid string, s *Session) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	sessions := pr.online[uid]
	if sessions == nil {
		sessions = make(map[string]*Session)
		pr.online[uid] = sessions
	}
	sessions[s.sid] = s
}

// remove unbinds a session. Returns the user id the session was bound to
// and true if this was the user's last session, i.e. the user went offline.
// Removing a session that was never bound is a no-op.
func (pr *PresenceRegistry) remove(s *Session) (string, bool) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	for uid, sessions := range pr.online {
		if _, ok := sessions[s.sid]; ok {
			delete(sessions, s.sid)
			if len(sessions) == 0 {
				delete(pr.online, uid)
				return uid, true
			}
			return uid, false
		}
	}
	return "", false
}

// sessionsForUser returns the sessions currently bound to the user; nil if
// the user is offline. Offline is not an error.
func (pr *PresenceRegistry) sessionsForUser(uid string) []*Session {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	sessions := pr.online[uid]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// boundSessions returns every session currently bound to some user.
func (pr *PresenceRegistry) boundSessions() []*Session {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	var out []*Session
	for _, sessions := range pr.online {
		for _, s := range sessions {
			out = append(out, s)
		}
	}
	return out
}

// snapshot returns the sorted set of online user ids. Taken under the
// registry lock: a snapshot never observes a half-applied add/remove.
func (pr *PresenceRegistry) snapshot() []string {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	return pr.snapshotUnsafe()
}

// snapshotUnsafe is the snapshot body for callers already holding the lock.
func (pr *PresenceRegistry) snapshotUnsafe() []string {
	out := make([]string, 0, len(pr.online))
	for uid := range pr.online {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// onlineCount returns the number of distinct online users.
func (pr *PresenceRegistry) onlineCount() int {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	return len(pr.online)
}
