// Package mongodb is a database adapter for MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/flyrr/flyrr/server/store"
	t "github.com/flyrr/flyrr/server/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn   *mdb.Client
	db     *mdb.Database
	dbName string
	ctx    context.Context
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "flyrr"

	adapterName = "mongodb"
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      any `json:"addresses,omitempty"`
	ConnectTimeout int `json:"timeout,omitempty"`

	// Options missing from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

func init() {
	store.RegisterAdapter(&adapter{})
}

// Open initializes the mongodb session.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter mongodb failed to parse config: " + err.Error())
	}

	var opts mdbopts.ClientOptions

	if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if ihosts, ok := config.Addresses.([]any); ok && len(ihosts) > 0 {
		hosts := make([]string, 0, len(ihosts))
		for _, ih := range ihosts {
			host, ok := ih.(string)
			if !ok || host == "" {
				return errors.New("adapter mongodb invalid config.Addresses value")
			}
			hosts = append(hosts, host)
		}
		opts.SetHosts(hosts)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	if config.Username != "" {
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   config.Password != "",
			})
	}

	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		return err
	}
	a.db = a.conn.Database(a.dbName)

	return nil
}

// Close the adapter.
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	}
	// Collections do not need to be explicitly created, MongoDB creates them
	// with the first write.

	indexes := []struct {
		Collection string
		Field      string
		IndexOpts  mdb.IndexModel
	}{
		// Unique email so an address registers only once.
		{
			Collection: "users",
			IndexOpts: mdb.IndexModel{
				Keys:    b.M{"email": 1},
				Options: mdbopts.Index().SetUnique(true),
			},
		},
		// Username lookups and search.
		{
			Collection: "users",
			Field:      "username",
		},

		// Conversation history is selected by the (sender, receiver) pair.
		{
			Collection: "messages",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "createdat", Value: 1}}},
		},
		{
			Collection: "messages",
			Field:      "receiver",
		},

		// The feed is served newest first.
		{
			Collection: "posts",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "createdat", Value: -1}}},
		},
		{
			Collection: "posts",
			Field:      "author",
		},

		// Notifications are selected per recipient, newest first.
		{
			Collection: "notifications",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "recipient", Value: 1}, {Key: "createdat", Value: -1}}},
		},
	}

	var err error
	for _, idx := range indexes {
		if idx.Field != "" {
			_, err = a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, mdb.IndexModel{Keys: b.M{idx.Field: 1}})
		} else {
			_, err = a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// User management.

// UserCreate persists a new user record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Collection("users").InsertOne(a.ctx, user)
	if mdb.IsDuplicateKeyError(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet loads a user by id.
func (a *adapter) UserGet(id string) (*t.User, error) {
	var user t.User
	err := a.db.Collection("users").FindOne(a.ctx, b.M{"_id": id}).Decode(&user)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserGetAll loads multiple users by their ids.
func (a *adapter) UserGetAll(ids ...string) ([]t.User, error) {
	cur, err := a.db.Collection("users").Find(a.ctx, b.M{"_id": b.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var users []t.User
	if err = cur.All(a.ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UserGetByEmail loads a user by unique email.
func (a *adapter) UserGetByEmail(email string) (*t.User, error) {
	var user t.User
	err := a.db.Collection("users").FindOne(a.ctx, b.M{"email": email}).Decode(&user)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserGetByUsername loads a user by username.
func (a *adapter) UserGetByUsername(username string) (*t.User, error) {
	var user t.User
	err := a.db.Collection("users").FindOne(a.ctx, b.M{"username": username}).Decode(&user)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserList returns all users except the one with the given id.
func (a *adapter) UserList(exclude string) ([]t.User, error) {
	cur, err := a.db.Collection("users").Find(a.ctx, b.M{"_id": b.M{"$ne": exclude}})
	if err != nil {
		return nil, err
	}
	var users []t.User
	if err = cur.All(a.ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UserFind searches users by a username substring, case-insensitive.
func (a *adapter) UserFind(query, exclude string, limit int) ([]t.User, error) {
	filter := b.M{
		"username": b.M{"$regex": escapeRegex(query), "$options": "i"},
		"_id":      b.M{"$ne": exclude},
	}
	cur, err := a.db.Collection("users").Find(a.ctx, filter,
		mdbopts.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var users []t.User
	if err = cur.All(a.ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Direct messages.

// MessageSave persists a new message.
func (a *adapter) MessageSave(msg *t.Message) error {
	_, err := a.db.Collection("messages").InsertOne(a.ctx, msg)
	return err
}

func betweenFilter(user1, user2 string) b.M {
	return b.M{"$or": b.A{
		b.M{"sender": user1, "receiver": user2},
		b.M{"sender": user2, "receiver": user1},
	}}
}

// MessagesBetween loads the full history between two users, oldest first.
func (a *adapter) MessagesBetween(user1, user2 string) ([]t.Message, error) {
	cur, err := a.db.Collection("messages").Find(a.ctx, betweenFilter(user1, user2),
		mdbopts.Find().SetSort(b.D{{Key: "createdat", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var msgs []t.Message
	if err = cur.All(a.ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MessageLastBetween loads the most recent message between two users.
func (a *adapter) MessageLastBetween(user1, user2 string) (*t.Message, error) {
	var msg t.Message
	err := a.db.Collection("messages").FindOne(a.ctx, betweenFilter(user1, user2),
		mdbopts.FindOne().SetSort(b.D{{Key: "createdat", Value: -1}})).Decode(&msg)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagePartners returns ids of all users the given user has exchanged
// messages with.
func (a *adapter) MessagePartners(user string) ([]string, error) {
	cur, err := a.db.Collection("messages").Find(a.ctx,
		b.M{"$or": b.A{b.M{"sender": user}, b.M{"receiver": user}}})
	if err != nil {
		return nil, err
	}
	var msgs []t.Message
	if err = cur.All(a.ctx, &msgs); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var partners []string
	for i := range msgs {
		partner := msgs[i].Sender
		if partner == user {
			partner = msgs[i].Receiver
		}
		if !seen[partner] {
			seen[partner] = true
			partners = append(partners, partner)
		}
	}
	return partners, nil
}

// Feed posts.

// PostSave persists a new post.
func (a *adapter) PostSave(post *t.Post) error {
	_, err := a.db.Collection("posts").InsertOne(a.ctx, post)
	return err
}

// PostGet loads a single post by id.
func (a *adapter) PostGet(id string) (*t.Post, error) {
	var post t.Post
	err := a.db.Collection("posts").FindOne(a.ctx, b.M{"_id": id}).Decode(&post)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &post, nil
}

// PostGetAll loads all posts, newest first.
func (a *adapter) PostGetAll() ([]t.Post, error) {
	return a.postFind(b.M{})
}

// PostsByAuthor loads posts of a single author, newest first.
func (a *adapter) PostsByAuthor(author string) ([]t.Post, error) {
	return a.postFind(b.M{"author": author})
}

func (a *adapter) postFind(filter b.M) ([]t.Post, error) {
	cur, err := a.db.Collection("posts").Find(a.ctx, filter,
		mdbopts.Find().SetSort(b.D{{Key: "createdat", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var posts []t.Post
	if err = cur.All(a.ctx, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// PostUpdate replaces likes and comments of a stored post.
func (a *adapter) PostUpdate(post *t.Post) error {
	res, err := a.db.Collection("posts").UpdateOne(a.ctx, b.M{"_id": post.Id},
		b.M{"$set": b.M{
			"likes":     post.Likes,
			"comments":  post.Comments,
			"updatedat": post.UpdatedAt,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// PostDelete removes a post.
func (a *adapter) PostDelete(id string) error {
	res, err := a.db.Collection("posts").DeleteOne(a.ctx, b.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// Notifications.

// NotificationSave persists a new notification.
func (a *adapter) NotificationSave(notif *t.Notification) error {
	_, err := a.db.Collection("notifications").InsertOne(a.ctx, notif)
	return err
}

// NotificationGet loads a single notification by id.
func (a *adapter) NotificationGet(id string) (*t.Notification, error) {
	var notif t.Notification
	err := a.db.Collection("notifications").FindOne(a.ctx, b.M{"_id": id}).Decode(&notif)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &notif, nil
}

// NotificationsForUser loads notifications for a recipient, newest first.
func (a *adapter) NotificationsForUser(recipient string) ([]t.Notification, error) {
	cur, err := a.db.Collection("notifications").Find(a.ctx, b.M{"recipient": recipient},
		mdbopts.Find().SetSort(b.D{{Key: "createdat", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var notifs []t.Notification
	if err = cur.All(a.ctx, &notifs); err != nil {
		return nil, err
	}
	return notifs, nil
}

// NotificationMarkRead flips the read flag of a single notification.
func (a *adapter) NotificationMarkRead(id string) error {
	res, err := a.db.Collection("notifications").UpdateOne(a.ctx, b.M{"_id": id},
		b.M{"$set": b.M{"read": true, "updatedat": t.TimeNow()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// NotificationMarkAllRead flips the read flag of all of the recipient's
// unread notifications.
func (a *adapter) NotificationMarkAllRead(recipient string) error {
	_, err := a.db.Collection("notifications").UpdateMany(a.ctx,
		b.M{"recipient": recipient, "read": false},
		b.M{"$set": b.M{"read": true, "updatedat": t.TimeNow()}})
	return err
}

// NotificationDelete removes a notification.
func (a *adapter) NotificationDelete(id string) error {
	res, err := a.db.Collection("notifications").DeleteOne(a.ctx, b.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return t.ErrNotFound
	}
	return nil
}

// escapeRegex quotes regex metacharacters so user input is matched literally.
func escapeRegex(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
