/******************************************************************************
 *
 *  Description :
 *
 *    Handling of live client connections. A session is a single websocket
 *    connection; a user may have multiple sessions open at once.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"time"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/gorilla/websocket"
)

// Maximum number of queued outbound messages, beyond it the connection is
// considered stuck and gets closed.
const sendQueueLimit = 128

// Session represents a single live connection. A user may have multiple
// sessions.
type Session struct {
	// Underlying websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Id of the user bound to the session, empty until the client announces
	// itself. Accessed from the connection's read loop only.
	uid string

	// Time when the session received any packet from the client.
	lastAction time.Time

	// Outbound messages, buffered. Content is either []byte, pre-serialized,
	// or *ServerComMessage.
	send chan any

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send'.
	stop chan any

	// Session ID.
	sid string
}

// queueOut attempts to send a ServerComMessage to the session. Non-blocking:
// a session with a full send queue loses the message and is flagged for
// closing. Delivery misses are recovered from the durable records on the
// next client fetch.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- msg:
	default:
		logs.Err.Println("s.queueOut: session send queue full", s.sid)
		return false
	}
	return true
}

// queueOutBytes attempts to send an already serialized message to the
// session. Non-blocking, same semantics as queueOut.
func (s *Session) queueOutBytes(data []byte) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- data:
	default:
		logs.Err.Println("s.queueOutBytes: session send queue full", s.sid)
		return false
	}
	return true
}

// cleanUp is called when the transport is closed: the session is removed
// from the session store and unbound from presence. Unbinding a session that
// never announced a user is a no-op.
func (s *Session) cleanUp() {
	globals.sessionStore.Delete(s)
	if globals.hub != nil {
		globals.hub.unbindSession(s)
	}
}

// dispatchRaw parses a raw packet received from the client and dispatches it.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage

	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warn.Println("s.dispatch: malformed packet", s.sid, err)
		s.queueOut(ErrMalformed(now()))
		return
	}

	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastAction = time.Now()

	switch {
	case msg.Online != nil:
		s.online(msg.Online)

	default:
		// Unknown packet.
		s.queueOut(ErrMalformed(now()))
		logs.Warn.Println("s.dispatch: unknown packet", s.sid)
	}
}

// online processes the client's presence announcement. Repeated
// announcements of the same user are idempotent; announcing a different
// user rebinds the session.
func (s *Session) online(msg *MsgClientOnline) {
	if msg.User == "" {
		// Caller error: no identity given. No state change, no broadcast.
		s.queueOut(ErrMissingUser(now()))
		logs.Warn.Println("s.online: missing user id", s.sid)
		return
	}

	if s.uid != "" && s.uid != msg.User {
		// Identity rebind: drop the old presence entry first.
		globals.hub.unbindSession(s)
	}
	s.uid = msg.User
	globals.hub.bindSession(msg.User, s)

	s.queueOut(NoErr(now()))
}

// serialize converts a message to the wire format.
func serialize(msg *ServerComMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
