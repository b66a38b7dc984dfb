/******************************************************************************
 *
 *  Description :
 *
 *    Websocket connection handler. Upgrades the HTTP request, creates a
 *    session and runs its read and write loops.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flyrr/flyrr/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 55 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin. Cross-origin policy is enforced
	// at the HTTP layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (sess *Session) closeWS() {
	sess.ws.Close()
}

func (sess *Session) readLoop() {
	defer func() {
		sess.closeWS()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(globals.maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a message from the connection.
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sess.sid, err)
			}
			return
		}
		statsInc("IncomingMessagesTotal", 1)
		statsAddHistSample("IncomingMessageSize", float64(len(raw)))

		sess.dispatchRaw(raw)
	}
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if err := wsWrite(sess, websocket.TextMessage, msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop", sess.sid, err)
				}
				return
			}
			statsInc("OutgoingMessagesTotal", 1)

		case msg := <-sess.stop:
			// Shutdown requested. Don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess, websocket.TextMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type with a deadline.
func wsWrite(sess *Session, mt int, msg any) error {
	var bits []byte
	switch v := msg.(type) {
	case nil:
	case []byte:
		bits = v
	case *ServerComMessage:
		var err error
		if bits, err = serialize(v); err != nil {
			return err
		}
	}
	sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		serveJSON(wrt, http.StatusMethodNotAllowed, apiError{Message: "method not allowed"})
		return
	}
	if globals.shuttingDown {
		serveJSON(wrt, http.StatusServiceUnavailable, apiError{Message: "server is shutting down"})
		return
	}

	upgrader.EnableCompression = globals.wsCompression
	ws, err := upgrader.Upgrade(wrt, req, nil)
	if err != nil {
		logs.Err.Println("ws: failed to upgrade", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	sess.remoteAddr = req.RemoteAddr
	logs.Info.Println("ws: session started", sess.sid, sess.remoteAddr, count)

	// Do work in goroutines to return from serveWebSocket() to release file
	// pointers. Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
