// Package store provides access to the durable records of the system:
// users, direct messages, feed posts and notifications. The actual
// persistence is delegated to a registered database adapter.
package store

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/flyrr/flyrr/server/store/adapter"
	"github.com/flyrr/flyrr/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// 16-byte XTEA key used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations of individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// Open initializes the persistence system: selects the adapter, starts the
// id generator, then opens the database connection.
//   workerID - snowflake worker id of this process, 0..1023.
//   jsonconf - `store_config` section of the config file.
func Open(workerID int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error())
	}

	if adp == nil {
		if config.UseAdapter != "" {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: adapter '" + config.UseAdapter + "' is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only registered adapter.
			for _, ad := range availableAdapters {
				adp = ad
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	if workerID < 0 || workerID > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerID), config.UidKey); err != nil {
		return errors.New("store: failed to init id generator: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// Close terminates the connection to persistent storage.
func Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// IsOpen checks if the persistent storage connection has been initialized.
func IsOpen() bool {
	return adp != nil && adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// InitDb creates and configures a new database instance. If 'reset' is true
// an existing database is dropped first.
func InitDb(reset bool) error {
	if !IsOpen() {
		return types.ErrNotInitialized
	}
	return adp.CreateDb(reset)
}

// RegisterAdapter makes a persistence adapter available.
// If it's called twice with the same name or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	name := a.GetName()
	if _, ok := availableAdapters[name]; ok {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// GetUid generates a unique ID suitable for use as a primary key.
func GetUid() types.Uid {
	return uGen.Get()
}

// GetUidString generates a unique ID as a string.
func GetUidString() string {
	return uGen.GetStr()
}

// resolveUsers loads the public views of the given user ids.
func resolveUsers(ids ...string) (map[string]*types.UserView, error) {
	users, err := adp.UserGetAll(ids...)
	if err != nil {
		return nil, err
	}
	views := make(map[string]*types.UserView, len(users))
	for i := range users {
		views[users[i].Id] = users[i].View()
	}
	return views, nil
}

// UsersMapper holds methods for persistence mapping of User objects.
type UsersMapper struct{}

// Users is the mapper for User objects.
var Users UsersMapper

// Create assigns an id and timestamps to the user, then persists it.
func (UsersMapper) Create(user *types.User) (*types.User, error) {
	user.SetUid(GetUid())
	user.InitTimes()
	if err := adp.UserCreate(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get loads a user by id.
func (UsersMapper) Get(id string) (*types.User, error) {
	return adp.UserGet(id)
}

// GetByEmail loads a user by unique email.
func (UsersMapper) GetByEmail(email string) (*types.User, error) {
	return adp.UserGetByEmail(strings.ToLower(email))
}

// GetByUsername loads a user by username.
func (UsersMapper) GetByUsername(username string) (*types.User, error) {
	return adp.UserGetByUsername(username)
}

// List returns all users except the given one.
func (UsersMapper) List(exclude string) ([]types.User, error) {
	return adp.UserList(exclude)
}

// Find searches users by a username substring.
func (UsersMapper) Find(query, exclude string, limit int) ([]types.User, error) {
	return adp.UserFind(query, exclude, limit)
}

// MessagesMapper holds methods for persistence mapping of Message objects.
type MessagesMapper struct{}

// Messages is the mapper for Message objects.
var Messages MessagesMapper

// Save assigns an id and timestamps to the message, persists it, then
// resolves the sender and receiver identities so the saved record can be
// rendered by a client without a secondary fetch.
func (MessagesMapper) Save(msg *types.Message) (*types.Message, error) {
	msg.SetUid(GetUid())
	msg.InitTimes()
	if err := adp.MessageSave(msg); err != nil {
		return nil, err
	}

	views, err := resolveUsers(msg.Sender, msg.Receiver)
	if err != nil {
		return nil, err
	}
	msg.SenderUser = views[msg.Sender]
	msg.ReceiverUser = views[msg.Receiver]
	return msg, nil
}

// GetBetween loads the full message history between two users, oldest first.
func (MessagesMapper) GetBetween(user1, user2 string) ([]types.Message, error) {
	return adp.MessagesBetween(user1, user2)
}

// ChatPartner pairs a user with the last message exchanged with them.
type ChatPartner struct {
	User        *types.UserView `json:"user"`
	LastMessage *types.Message  `json:"lastMessage,omitempty"`
}

// Partners returns the users the given user has conversations with, each
// with the most recent message, sorted by that message's time, newest first.
func (MessagesMapper) Partners(user string) ([]ChatPartner, error) {
	ids, err := adp.MessagePartners(user)
	if err != nil {
		return nil, err
	}

	views, err := resolveUsers(ids...)
	if err != nil {
		return nil, err
	}

	partners := make([]ChatPartner, 0, len(ids))
	for _, id := range ids {
		view := views[id]
		if view == nil {
			// Partner account is gone.
			continue
		}
		last, err := adp.MessageLastBetween(user, id)
		if err != nil && err != types.ErrNotFound {
			return nil, err
		}
		partners = append(partners, ChatPartner{User: view, LastMessage: last})
	}

	sort.SliceStable(partners, func(i, j int) bool {
		var ti, tj int64
		if partners[i].LastMessage != nil {
			ti = partners[i].LastMessage.CreatedAt.UnixMilli()
		}
		if partners[j].LastMessage != nil {
			tj = partners[j].LastMessage.CreatedAt.UnixMilli()
		}
		return ti > tj
	})

	return partners, nil
}

// PostsMapper holds methods for persistence mapping of Post objects.
type PostsMapper struct{}

// Posts is the mapper for Post objects.
var Posts PostsMapper

// Save assigns an id and timestamps to the post, persists it, then resolves
// the author identity.
func (PostsMapper) Save(post *types.Post) (*types.Post, error) {
	post.SetUid(GetUid())
	post.InitTimes()
	if post.Likes == nil {
		post.Likes = []string{}
	}
	if post.Comments == nil {
		post.Comments = []types.Comment{}
	}
	if err := adp.PostSave(post); err != nil {
		return nil, err
	}
	if err := populatePosts(post); err != nil {
		return nil, err
	}
	return post, nil
}

// Get loads a single post with author and commenter identities resolved.
func (PostsMapper) Get(id string) (*types.Post, error) {
	post, err := adp.PostGet(id)
	if err != nil {
		return nil, err
	}
	if err = populatePosts(post); err != nil {
		return nil, err
	}
	return post, nil
}

// GetAll loads the global feed, newest first, identities resolved.
func (PostsMapper) GetAll() ([]types.Post, error) {
	posts, err := adp.PostGetAll()
	if err != nil {
		return nil, err
	}
	refs := make([]*types.Post, len(posts))
	for i := range posts {
		refs[i] = &posts[i]
	}
	if err = populatePosts(refs...); err != nil {
		return nil, err
	}
	return posts, nil
}

// GetByAuthor loads the posts of a single author, newest first.
func (PostsMapper) GetByAuthor(author string) ([]types.Post, error) {
	posts, err := adp.PostsByAuthor(author)
	if err != nil {
		return nil, err
	}
	refs := make([]*types.Post, len(posts))
	for i := range posts {
		refs[i] = &posts[i]
	}
	if err = populatePosts(refs...); err != nil {
		return nil, err
	}
	return posts, nil
}

// Update persists mutated likes/comments of the post and re-resolves
// identities.
func (PostsMapper) Update(post *types.Post) (*types.Post, error) {
	post.Touch()
	if err := adp.PostUpdate(post); err != nil {
		return nil, err
	}
	if err := populatePosts(post); err != nil {
		return nil, err
	}
	return post, nil
}

// Delete removes the post.
func (PostsMapper) Delete(id string) error {
	return adp.PostDelete(id)
}

// populatePosts resolves author, commenter and reacting-user identities of
// the given posts in a single user lookup.
func populatePosts(posts ...*types.Post) error {
	idSet := make(map[string]bool)
	for _, post := range posts {
		idSet[post.Author] = true
		for i := range post.Comments {
			idSet[post.Comments[i].User] = true
			for j := range post.Comments[i].Reactions {
				idSet[post.Comments[i].Reactions[j].User] = true
			}
		}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	views, err := resolveUsers(ids...)
	if err != nil {
		return err
	}

	for _, post := range posts {
		post.AuthorUser = views[post.Author]
		for i := range post.Comments {
			post.Comments[i].UserView = views[post.Comments[i].User]
			for j := range post.Comments[i].Reactions {
				post.Comments[i].Reactions[j].UserView = views[post.Comments[i].Reactions[j].User]
			}
		}
	}
	return nil
}

// NotificationsMapper holds methods for persistence mapping of Notification
// objects.
type NotificationsMapper struct{}

// Notifications is the mapper for Notification objects.
var Notifications NotificationsMapper

// Save assigns an id and timestamps to the notification, persists it, then
// resolves the sender identity and the related post, if any.
func (NotificationsMapper) Save(notif *types.Notification) (*types.Notification, error) {
	notif.SetUid(GetUid())
	notif.InitTimes()
	if err := adp.NotificationSave(notif); err != nil {
		return nil, err
	}
	if err := populateNotifications(notif); err != nil {
		return nil, err
	}
	return notif, nil
}

// Get loads a single notification by id.
func (NotificationsMapper) Get(id string) (*types.Notification, error) {
	return adp.NotificationGet(id)
}

// GetForUser loads the recipient's notifications, newest first, with sender
// and post references resolved.
func (NotificationsMapper) GetForUser(recipient string) ([]types.Notification, error) {
	notifs, err := adp.NotificationsForUser(recipient)
	if err != nil {
		return nil, err
	}
	refs := make([]*types.Notification, len(notifs))
	for i := range notifs {
		refs[i] = &notifs[i]
	}
	if err = populateNotifications(refs...); err != nil {
		return nil, err
	}
	return notifs, nil
}

// MarkRead flips the read flag of a single notification.
func (NotificationsMapper) MarkRead(id string) error {
	return adp.NotificationMarkRead(id)
}

// MarkAllRead flips the read flag of all of the recipient's notifications.
func (NotificationsMapper) MarkAllRead(recipient string) error {
	return adp.NotificationMarkAllRead(recipient)
}

// Delete removes a notification.
func (NotificationsMapper) Delete(id string) error {
	return adp.NotificationDelete(id)
}

func populateNotifications(notifs ...*types.Notification) error {
	ids := make([]string, 0, len(notifs))
	for _, n := range notifs {
		ids = append(ids, n.Sender)
	}
	views, err := resolveUsers(ids...)
	if err != nil {
		return err
	}

	for _, n := range notifs {
		n.SenderUser = views[n.Sender]
		if n.Post != "" {
			post, err := adp.PostGet(n.Post)
			if err == types.ErrNotFound {
				// The related post was deleted, keep the notification itself.
				continue
			} else if err != nil {
				return err
			}
			n.PostView = &types.PostView{Id: post.Id, Text: post.Text, ImageURL: post.ImageURL}
		}
	}
	return nil
}
