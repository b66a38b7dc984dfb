package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flyrr/flyrr/server/store"
	"github.com/flyrr/flyrr/server/store/types"
)

func createTestUser(t *testing.T, username string) *types.User {
	t.Helper()
	user, err := store.Users.Create(&types.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "hashed",
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSendMessageOfflineRecipient(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	req := postJSON("/api/messages/send/"+bob.Id, `{"text": "hello"}`)
	req.SetPathValue("id", bob.Id)
	w := httptest.NewRecorder()
	sendMessage(w, req, alice.Id)

	if w.Code != http.StatusCreated {
		t.Fatalf("Status: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Offline delivery miss must not affect the durable records.
	msgs, err := store.Messages.GetBetween(alice.Id, bob.Id)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Stored messages: expected 1, got %d (err %v)", len(msgs), err)
	}
	if msgs[0].Text != "hello" {
		t.Errorf("Message text: expected 'hello', got '%s'", msgs[0].Text)
	}

	notifs, err := store.Notifications.GetForUser(bob.Id)
	if err != nil || len(notifs) != 1 {
		t.Fatalf("Stored notifications: expected 1, got %d (err %v)", len(notifs), err)
	}
	if notifs[0].Type != types.NotifNewMessage || notifs[0].Sender != alice.Id {
		t.Errorf("Unexpected notification: %+v", notifs[0])
	}
	if notifs[0].Read {
		t.Error("A fresh notification must be unread")
	}
}

func TestSendMessageOnlineRecipient(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	sess := &Session{sid: "s1", send: make(chan any, 10)}
	globals.hub.registry.add(bob.Id, sess)

	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go sess.testWriteLoop(&r, &wg)

	req := postJSON("/api/messages/send/"+bob.Id, `{"text": "hello"}`)
	req.SetPathValue("id", bob.Id)
	w := httptest.NewRecorder()
	sendMessage(w, req, alice.Id)

	close(sess.send)
	wg.Wait()

	if w.Code != http.StatusCreated {
		t.Fatalf("Status: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// The recipient's session gets the message first, then the notification.
	if len(r.messages) != 2 {
		t.Fatalf("Live events: expected 2, got %d", len(r.messages))
	}
	evt := decodeMessage(t, r.messages[0])
	if evt.Message == nil || evt.Message.Text != "hello" {
		t.Errorf("First event: expected newMessage 'hello', got %+v", evt)
	}
	if evt.Message.SenderUser == nil || evt.Message.SenderUser.Username != "alice" {
		t.Errorf("newMessage must carry the resolved sender, got %+v", evt.Message.SenderUser)
	}
	evt = decodeMessage(t, r.messages[1])
	if evt.Notification == nil || evt.Notification.Type != types.NotifNewMessage {
		t.Errorf("Second event: expected newNotification, got %+v", evt)
	}
}

func TestSendMessageWithoutHub(t *testing.T) {
	openTestStore(t)
	globals.hub = nil

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	req := postJSON("/api/messages/send/"+bob.Id, `{"text": "hello"}`)
	req.SetPathValue("id", bob.Id)
	w := httptest.NewRecorder()
	sendMessage(w, req, alice.Id)

	// The durable write must succeed even with the live subsystem down.
	if w.Code != http.StatusCreated {
		t.Fatalf("Status: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	msgs, _ := store.Messages.GetBetween(alice.Id, bob.Id)
	if len(msgs) != 1 {
		t.Errorf("Stored messages: expected 1, got %d", len(msgs))
	}
}

func TestSendMessageValidation(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	// Empty payload.
	req := postJSON("/api/messages/send/"+bob.Id, `{"text": "  "}`)
	req.SetPathValue("id", bob.Id)
	w := httptest.NewRecorder()
	sendMessage(w, req, alice.Id)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Empty message: expected 400, got %d", w.Code)
	}

	// Messaging oneself.
	req = postJSON("/api/messages/send/"+alice.Id, `{"text": "hi me"}`)
	req.SetPathValue("id", alice.Id)
	w = httptest.NewRecorder()
	sendMessage(w, req, alice.Id)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Self message: expected 400, got %d", w.Code)
	}

	// Unknown recipient.
	req = postJSON("/api/messages/send/nosuchuser", `{"text": "hi"}`)
	req.SetPathValue("id", "nosuchuser")
	w = httptest.NewRecorder()
	sendMessage(w, req, alice.Id)
	if w.Code != http.StatusNotFound {
		t.Errorf("Unknown recipient: expected 404, got %d", w.Code)
	}

	if msgs, _ := store.Messages.GetBetween(alice.Id, bob.Id); len(msgs) != 0 {
		t.Errorf("No messages must be stored, got %d", len(msgs))
	}
}

func TestChatPartnersOrder(t *testing.T) {
	openTestStore(t)
	globals.hub = nil

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")
	carol := createTestUser(t, "carol")

	base := types.TimeNow()
	msg1 := &types.Message{Sender: alice.Id, Receiver: bob.Id, Text: "hi bob"}
	msg1.CreatedAt = base.Add(-time.Minute)
	msg2 := &types.Message{Sender: carol.Id, Receiver: alice.Id, Text: "hi alice"}
	msg2.CreatedAt = base
	for _, m := range []*types.Message{msg1, msg2} {
		if _, err := store.Messages.Save(m); err != nil {
			t.Fatalf("Failed to store message: %v", err)
		}
	}

	chats, err := store.Messages.Partners(alice.Id)
	if err != nil {
		t.Fatalf("Partners failed: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("Chat partners: expected 2, got %d", len(chats))
	}
	// Most recent conversation first.
	if chats[0].User == nil || chats[0].User.Username != "carol" {
		t.Errorf("First chat partner: expected carol, got %+v", chats[0].User)
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.Text != "hi alice" {
		t.Errorf("Last message with carol: expected 'hi alice', got %+v", chats[0].LastMessage)
	}
}
