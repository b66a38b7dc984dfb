/******************************************************************************
 *
 *  Description :
 *
 *    Direct message handlers. A sent message is made durable first, then
 *    pushed to the recipient's live sessions. Failed live delivery is not
 *    an error: an offline recipient picks the message up by fetching the
 *    conversation later.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"
	"github.com/flyrr/flyrr/server/store/types"
)

// getContacts handles GET /api/messages/contacts.
func getContacts(wrt http.ResponseWriter, req *http.Request, uid string) {
	users, err := store.Users.List(uid)
	if err != nil {
		logs.Err.Println("contacts: listing failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, users)
}

// getChats handles GET /api/messages/chats. Returns the caller's chat
// partners with the last exchanged message, most recent conversation first.
func getChats(wrt http.ResponseWriter, req *http.Request, uid string) {
	chats, err := store.Messages.Partners(uid)
	if err != nil {
		logs.Err.Println("chats: partner listing failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, chats)
}

// getMessages handles GET /api/messages/{id}. Returns the full conversation
// between the caller and the given user, oldest first.
func getMessages(wrt http.ResponseWriter, req *http.Request, uid string) {
	other := req.PathValue("id")
	if other == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "user id is required"})
		return
	}

	messages, err := store.Messages.GetBetween(uid, other)
	if err != nil {
		logs.Err.Println("messages: fetch failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, messages)
}

// sendMessage handles POST /api/messages/send/{id}.
func sendMessage(wrt http.ResponseWriter, req *http.Request, uid string) {
	receiver := req.PathValue("id")
	if receiver == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "receiver id is required"})
		return
	}
	if receiver == uid {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "cannot message yourself"})
		return
	}

	var body struct {
		Text     string `json:"text"`
		ImageURL string `json:"imageUrl"`
	}
	if err := decodeRequest(req, &body); err != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "malformed request"})
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" && body.ImageURL == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "message must have text or an image"})
		return
	}

	if _, err := store.Users.Get(receiver); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "user not found"})
			return
		}
		logs.Err.Println("send: receiver lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	// Durable write comes first. Live push happens only after the message
	// is safely stored.
	msg, err := store.Messages.Save(&types.Message{
		Sender:   uid,
		Receiver: receiver,
		Text:     body.Text,
		ImageURL: body.ImageURL,
	})
	if err != nil {
		logs.Err.Println("send: message save failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	routeToUser(receiver, &ServerComMessage{Message: msg})

	notif, err := store.Notifications.Save(&types.Notification{
		Recipient: receiver,
		Sender:    uid,
		Type:      types.NotifNewMessage,
	})
	if err != nil {
		logs.Err.Println("send: notification save failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	routeNotification(notif)

	serveJSON(wrt, http.StatusCreated, msg)
}
