// Package adapter contains the interface to be implemented by the database adapter.
package adapter

import (
	"encoding/json"

	t "github.com/flyrr/flyrr/server/store/types"
)

// Adapter is the interface implemented by a database adapter.
// Methods return t.ErrNotFound when a requested record does not exist
// and t.ErrDuplicate on unique constraint violations.
type Adapter interface {
	// Open and configure the adapter.
	Open(jsonconf json.RawMessage) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// CreateDb creates the database and indexes, optionally dropping an
	// existing database first.
	CreateDb(reset bool) error

	// User management.

	// UserCreate persists a new user record.
	UserCreate(user *t.User) error
	// UserGet loads a user by id; (nil, t.ErrNotFound) if missing.
	UserGet(id string) (*t.User, error)
	// UserGetAll loads multiple users by their ids. Missing ids are skipped.
	UserGetAll(ids ...string) ([]t.User, error)
	// UserGetByEmail loads a user by unique email.
	UserGetByEmail(email string) (*t.User, error)
	// UserGetByUsername loads a user by username.
	UserGetByUsername(username string) (*t.User, error)
	// UserList returns all users except the one with the given id.
	UserList(exclude string) ([]t.User, error)
	// UserFind searches users by a username substring, case-insensitive,
	// excluding the given id, at most limit results.
	UserFind(query string, exclude string, limit int) ([]t.User, error)

	// Direct messages.

	// MessageSave persists a new message.
	MessageSave(msg *t.Message) error
	// MessagesBetween loads the full history between two users, oldest first.
	MessagesBetween(user1, user2 string) ([]t.Message, error)
	// MessageLastBetween loads the most recent message between two users.
	MessageLastBetween(user1, user2 string) (*t.Message, error)
	// MessagePartners returns ids of all users the given user has exchanged
	// messages with.
	MessagePartners(user string) ([]string, error)

	// Feed posts.

	// PostSave persists a new post.
	PostSave(post *t.Post) error
	// PostGet loads a single post by id.
	PostGet(id string) (*t.Post, error)
	// PostGetAll loads all posts, newest first.
	PostGetAll() ([]t.Post, error)
	// PostsByAuthor loads posts of a single author, newest first.
	PostsByAuthor(author string) ([]t.Post, error)
	// PostUpdate replaces likes and comments of a stored post.
	PostUpdate(post *t.Post) error
	// PostDelete removes a post.
	PostDelete(id string) error

	// Notifications.

	// NotificationSave persists a new notification.
	NotificationSave(notif *t.Notification) error
	// NotificationGet loads a single notification by id.
	NotificationGet(id string) (*t.Notification, error)
	// NotificationsForUser loads notifications for a recipient, newest first.
	NotificationsForUser(recipient string) ([]t.Notification, error)
	// NotificationMarkRead flips the read flag of a single notification.
	NotificationMarkRead(id string) error
	// NotificationMarkAllRead flips the read flag of all of the recipient's
	// unread notifications.
	NotificationMarkAllRead(recipient string) error
	// NotificationDelete removes a notification.
	NotificationDelete(id string) error
}
