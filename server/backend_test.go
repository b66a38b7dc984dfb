package main

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/flyrr/flyrr/server/store"
	t "github.com/flyrr/flyrr/server/store/types"
)

// fakeAdapter is an in-memory store backend for handler tests.
type fakeAdapter struct {
	lock sync.Mutex
	open bool

	users    map[string]*t.User
	messages []*t.Message
	posts    map[string]*t.Post
	notifs   map[string]*t.Notification
}

func (a *fakeAdapter) Open(jsonconf json.RawMessage) error {
	a.users = make(map[string]*t.User)
	a.messages = nil
	a.posts = make(map[string]*t.Post)
	a.notifs = make(map[string]*t.Notification)
	a.open = true
	return nil
}

func (a *fakeAdapter) Close() error {
	a.open = false
	return nil
}

func (a *fakeAdapter) IsOpen() bool        { return a.open }
func (a *fakeAdapter) GetName() string     { return "fake" }
func (a *fakeAdapter) CreateDb(bool) error { return nil }

func (a *fakeAdapter) reset() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.users = make(map[string]*t.User)
	a.messages = nil
	a.posts = make(map[string]*t.Post)
	a.notifs = make(map[string]*t.Notification)
}

func (a *fakeAdapter) UserCreate(user *t.User) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, u := range a.users {
		if u.Email == user.Email || u.Username == user.Username {
			return t.ErrDuplicate
		}
	}
	clone := *user
	a.users[user.Id] = &clone
	return nil
}

func (a *fakeAdapter) UserGet(id string) (*t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if u, ok := a.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) UserGetAll(ids ...string) ([]t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.User
	for _, id := range ids {
		if u, ok := a.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (a *fakeAdapter) UserGetByEmail(email string) (*t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, u := range a.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) UserGetByUsername(username string) (*t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, u := range a.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) UserList(exclude string) ([]t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.User
	for _, u := range a.users {
		if u.Id != exclude {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (a *fakeAdapter) UserFind(query, exclude string, limit int) ([]t.User, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.User
	for _, u := range a.users {
		if u.Id == exclude || len(out) >= limit {
			continue
		}
		if len(u.Username) >= len(query) && u.Username[:len(query)] == query {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (a *fakeAdapter) MessageSave(msg *t.Message) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	clone := *msg
	a.messages = append(a.messages, &clone)
	return nil
}

func betweenUsers(msg *t.Message, user1, user2 string) bool {
	return (msg.Sender == user1 && msg.Receiver == user2) ||
		(msg.Sender == user2 && msg.Receiver == user1)
}

func (a *fakeAdapter) MessagesBetween(user1, user2 string) ([]t.Message, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.Message
	for _, m := range a.messages {
		if betweenUsers(m, user1, user2) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (a *fakeAdapter) MessageLastBetween(user1, user2 string) (*t.Message, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i := len(a.messages) - 1; i >= 0; i-- {
		if betweenUsers(a.messages[i], user1, user2) {
			clone := *a.messages[i]
			return &clone, nil
		}
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) MessagePartners(user string) ([]string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range a.messages {
		var other string
		if m.Sender == user {
			other = m.Receiver
		} else if m.Receiver == user {
			other = m.Sender
		} else {
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

func (a *fakeAdapter) PostSave(post *t.Post) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	clone := *post
	a.posts[post.Id] = &clone
	return nil
}

func (a *fakeAdapter) PostGet(id string) (*t.Post, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if p, ok := a.posts[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) PostGetAll() ([]t.Post, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.Post
	for _, p := range a.posts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (a *fakeAdapter) PostsByAuthor(author string) ([]t.Post, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.Post
	for _, p := range a.posts {
		if p.Author == author {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (a *fakeAdapter) PostUpdate(post *t.Post) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.posts[post.Id]; !ok {
		return t.ErrNotFound
	}
	clone := *post
	a.posts[post.Id] = &clone
	return nil
}

func (a *fakeAdapter) PostDelete(id string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.posts[id]; !ok {
		return t.ErrNotFound
	}
	delete(a.posts, id)
	return nil
}

func (a *fakeAdapter) NotificationSave(notif *t.Notification) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	clone := *notif
	a.notifs[notif.Id] = &clone
	return nil
}

func (a *fakeAdapter) NotificationGet(id string) (*t.Notification, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if n, ok := a.notifs[id]; ok {
		clone := *n
		return &clone, nil
	}
	return nil, t.ErrNotFound
}

func (a *fakeAdapter) NotificationsForUser(recipient string) ([]t.Notification, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	var out []t.Notification
	for _, n := range a.notifs {
		if n.Recipient == recipient {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (a *fakeAdapter) NotificationMarkRead(id string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if n, ok := a.notifs[id]; ok {
		n.Read = true
		return nil
	}
	return t.ErrNotFound
}

func (a *fakeAdapter) NotificationMarkAllRead(recipient string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, n := range a.notifs {
		if n.Recipient == recipient {
			n.Read = true
		}
	}
	return nil
}

func (a *fakeAdapter) NotificationDelete(id string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.notifs[id]; !ok {
		return t.ErrNotFound
	}
	delete(a.notifs, id)
	return nil
}

var testBackend = &fakeAdapter{}
var backendInit sync.Once

// openTestStore registers the fake backend and opens the store against it.
// Repeated calls only wipe the stored data.
func openTestStore(tb testing.TB) *fakeAdapter {
	backendInit.Do(func() {
		store.RegisterAdapter(testBackend)
		conf := json.RawMessage(`{
			"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
			"use_adapter": "fake"
		}`)
		if err := store.Open(1, conf); err != nil {
			tb.Fatalf("Failed to open test store: %v", err)
		}
	})
	testBackend.reset()
	return testBackend
}
