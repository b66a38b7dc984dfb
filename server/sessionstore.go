/******************************************************************************
 *
 *  Description :
 *
 *    Management of the set of live websocket sessions.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"
	"github.com/gorilla/websocket"
)

// SessionStore holds all live sessions indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	sessCache map[string]*Session
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}

// NewSession creates a new session from a websocket connection and saves it
// to the session store. The session carries no user identity until the
// client announces one. Returns the session and the total number of live
// sessions.
func (ss *SessionStore) NewSession(conn *websocket.Conn, sid string) (*Session, int) {
	if sid == "" {
		sid = store.GetUidString()
	}

	s := &Session{
		sid:        sid,
		ws:         conn,
		send:       make(chan any, sendQueueLimit+32),
		stop:       make(chan any, 1),
		lastAction: time.Now(),
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsInc("LiveSessions", 1)
	statsInc("TotalSessions", 1)

	return s, count
}

// Get fetches a session from the store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes a session from the store. Returns the number of sessions
// still live.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	if _, ok := ss.sessCache[s.sid]; ok {
		delete(ss.sessCache, s.sid)
		statsInc("LiveSessions", -1)
	}
	return len(ss.sessCache)
}

// Count returns the number of live sessions.
func (ss *SessionStore) Count() int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return len(ss.sessCache)
}

// Shutdown terminates the session store: tells every session to close the
// connection after sending a shutdown notice.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	shutdown, _ := serialize(NoErrShutdown(time.Now().UTC().Round(time.Millisecond)))
	for _, s := range ss.sessCache {
		if s.stop != nil {
			select {
			case s.stop <- shutdown:
			default:
			}
		}
	}

	logs.Info.Println("SessionStore shut down, sessions terminated:", len(ss.sessCache))
}
