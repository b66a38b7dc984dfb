/******************************************************************************
 *
 *  Description :
 *
 *    Event router. Delivers domain events to live sessions: point-to-point
 *    to a single user's sessions or broadcast to every bound session. Also
 *    the entry point for connection lifecycle changes (bind/unbind), which
 *    mutate the presence registry and announce the new presence set.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store/types"
)

// hubBroadcast is a single prepared broadcast: the serialized payload and
// the sessions that were bound when the broadcast was requested. Sessions
// bound later must not receive it.
type hubBroadcast struct {
	data    []byte
	targets []*Session
}

// Hub is the event router.
type Hub struct {
	// Who is currently reachable for live push.
	registry *PresenceRegistry

	// Queue of outgoing broadcasts.
	spread chan *hubBroadcast

	// Request to shut down, buffered by 1.
	shutdown chan chan<- bool

	// Serializes presence mutations with their announcements so that
	// consecutive onlineUsers broadcasts reflect the registry in mutation
	// order.
	presLock sync.Mutex
}

func newHub() *Hub {
	h := &Hub{
		registry: NewPresenceRegistry(),
		spread:   make(chan *hubBroadcast, 256),
		shutdown: make(chan chan<- bool, 1),
	}

	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("OnlineUsers")
	statsRegisterInt("IncomingMessagesTotal")
	statsRegisterInt("OutgoingMessagesTotal")
	statsRegisterInt("BroadcastsTotal")
	statsRegisterInt("LiveDeliveriesTotal")
	statsRegisterInt("MissedDeliveriesTotal")
	statsRegisterHistogram("IncomingMessageSize", []float64{64, 256, 1024, 4096, 16384})

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case msg := <-h.spread:
			for _, s := range msg.targets {
				s.queueOutBytes(msg.data)
			}
			statsInc("BroadcastsTotal", 1)

		case hubdone := <-h.shutdown:
			hubdone <- true
			return
		}
	}
}

// bindSession registers the session as a live connection of the given user
// and announces the new presence set to everyone. Rebinding the same user
// is idempotent.
func (h *Hub) bindSession(uid string, s *Session) {
	h.presLock.Lock()
	defer h.presLock.Unlock()

	h.registry.add(uid, s)
	h.announcePresence()
	logs.Info.Println("hub: user online", uid, s.sid)
}

// unbindSession drops the session's presence entry, if any, and announces
// the new presence set. No-op for sessions that never announced a user.
func (h *Hub) unbindSession(s *Session) {
	h.presLock.Lock()
	defer h.presLock.Unlock()

	uid, wasLast := h.registry.remove(s)
	if uid == "" {
		// Handshake never completed, nothing to announce.
		return
	}

	h.announcePresence()
	if wasLast {
		logs.Info.Println("hub: user offline", uid, s.sid)
	}
}

// announcePresence broadcasts the current set of online users. Must be
// called with presLock held.
func (h *Hub) announcePresence() {
	online := h.registry.snapshot()
	statsSet("OnlineUsers", int64(len(online)))
	h.queueBroadcast(&ServerComMessage{OnlineUsers: online})
}

// RouteToUser pushes the event to every live session of the given user.
// Returns false when the user has no live sessions: the "recipient offline"
// case, which is expected and not an error.
func (h *Hub) RouteToUser(uid string, msg *ServerComMessage) bool {
	sessions := h.registry.sessionsForUser(uid)
	if len(sessions) == 0 {
		statsInc("MissedDeliveriesTotal", 1)
		return false
	}

	data, err := serialize(msg)
	if err != nil {
		logs.Err.Println("hub: route serialization failed:", err)
		return false
	}

	for _, s := range sessions {
		s.queueOutBytes(data)
	}
	statsInc("LiveDeliveriesTotal", len(sessions))
	return true
}

// RouteNotification pushes an already persisted notification to its
// recipient. The notification must carry resolved sender (and post, if any)
// references. Returns false when the recipient is offline.
func (h *Hub) RouteNotification(notif *types.Notification) bool {
	return h.RouteToUser(notif.Recipient, &ServerComMessage{Notification: notif})
}

// Broadcast queues the event for delivery to every session bound at the
// time of the call.
func (h *Hub) Broadcast(msg *ServerComMessage) {
	h.queueBroadcast(msg)
}

func (h *Hub) queueBroadcast(msg *ServerComMessage) {
	data, err := serialize(msg)
	if err != nil {
		logs.Err.Println("hub: broadcast serialization failed:", err)
		return
	}

	select {
	case h.spread <- &hubBroadcast{data: data, targets: h.registry.boundSessions()}:
	default:
		logs.Err.Println("hub: broadcast queue full, event dropped")
	}
}

// The helpers below are used by the HTTP handlers. They tolerate the live
// subsystem being unavailable: the durable write has already succeeded and
// the system degrades to delivery by polling.

// routeToUser pushes the event to the user's live sessions, best effort.
func routeToUser(uid string, msg *ServerComMessage) bool {
	if globals.hub == nil {
		logs.Warn.Println("routeToUser: hub not initialized, live delivery skipped")
		return false
	}
	return globals.hub.RouteToUser(uid, msg)
}

// routeNotification pushes a persisted notification to its recipient, best
// effort.
func routeNotification(notif *types.Notification) bool {
	if globals.hub == nil {
		logs.Warn.Println("routeNotification: hub not initialized, live delivery skipped")
		return false
	}
	return globals.hub.RouteNotification(notif)
}

// broadcastAll pushes the event to all bound sessions, best effort.
func broadcastAll(msg *ServerComMessage) {
	if globals.hub == nil {
		logs.Warn.Println("broadcastAll: hub not initialized, live delivery skipped")
		return
	}
	globals.hub.Broadcast(msg)
}
