// Package types defines the entities kept in persistent storage.
package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// Uid is a database-agnostic record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is a zero value of Uid, not a valid id of any record.
const ZeroUid Uid = 0

const (
	uidBase64Unpadded = 11
	uidBase64Padded   = 12
)

// Store errors shared by all adapters.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate value")
	// ErrMalformed is returned when a given value cannot be processed.
	ErrMalformed = errors.New("store: malformed value")
	// ErrPermissionDenied is returned when the requester does not own the record.
	ErrPermissionDenied = errors.New("store: permission denied")
	// ErrNotInitialized is returned when the store is used before it's opened.
	ErrNotInitialized = errors.New("store: not initialized")
)

// IsZero checks if the uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == 0
}

// MarshalText converts the uid to base64url-encoded text.
func (uid Uid) MarshalText() ([]byte, error) {
	if uid == 0 {
		return []byte{}, nil
	}
	src := make([]byte, 8)
	dst := make([]byte, base64.URLEncoding.EncodedLen(8))
	binary.LittleEndian.PutUint64(src, uint64(uid))
	base64.URLEncoding.Encode(dst, src)
	return dst[0:uidBase64Unpadded], nil
}

// UnmarshalText parses a base64url-encoded uid.
func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) != uidBase64Unpadded {
		return ErrMalformed
	}
	for len(src) < uidBase64Padded {
		src = append(src, '=')
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(uidBase64Padded))
	count, err := base64.URLEncoding.Decode(dec, src)
	if count < 8 {
		if err != nil {
			return err
		}
		return ErrMalformed
	}
	*uid = Uid(binary.LittleEndian.Uint64(dec))
	return nil
}

// MarshalJSON converts the uid to a quoted string.
func (uid Uid) MarshalJSON() ([]byte, error) {
	dst, _ := uid.MarshalText()
	return append(append([]byte{'"'}, dst...), '"'), nil
}

// UnmarshalJSON parses a uid from a quoted string.
func (uid *Uid) UnmarshalJSON(b []byte) error {
	size := len(b)
	if size != uidBase64Unpadded+2 || b[0] != '"' || b[size-1] != '"' {
		return ErrMalformed
	}
	return uid.UnmarshalText(b[1 : size-1])
}

// String converts the uid to its text representation.
func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses the text representation of a uid. Returns ZeroUid on failure.
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// ObjHeader is the header shared by all stored objects.
type ObjHeader struct {
	// Id of the object, base64url-encoded uid.
	Id        string    `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"createdAt" bson:"createdat"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedat"`

	// Cached decoded value of Id.
	id Uid
}

// Uid returns the id of the object as a Uid.
func (h *ObjHeader) Uid() Uid {
	if h.id.IsZero() && h.Id != "" {
		h.id.UnmarshalText([]byte(h.Id))
	}
	return h.id
}

// SetUid assigns the given uid to the object.
func (h *ObjHeader) SetUid(uid Uid) {
	h.id = uid
	h.Id = uid.String()
}

// InitTimes initializes the header timestamps to current time.
func (h *ObjHeader) InitTimes() {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = TimeNow()
	}
	h.UpdatedAt = h.CreatedAt
}

// Touch bumps the UpdatedAt timestamp.
func (h *ObjHeader) Touch() {
	h.UpdatedAt = TimeNow()
}

// User is a stored account record.
type User struct {
	ObjHeader `bson:",inline"`

	Username string `json:"username" bson:"username"`
	Email    string `json:"email" bson:"email"`
	// Bcrypt hash of the password, never serialized to clients.
	Password   string `json:"-" bson:"password"`
	ProfilePic string `json:"profilePic" bson:"profilepic"`
}

// UserView is the public projection of a User, embedded into push payloads
// so clients can render them without a secondary fetch.
type UserView struct {
	Id         string `json:"id" bson:"_id"`
	Username   string `json:"username" bson:"username"`
	ProfilePic string `json:"profilePic" bson:"profilepic"`
}

// View returns the public projection of the user.
func (u *User) View() *UserView {
	if u == nil {
		return nil
	}
	return &UserView{Id: u.Id, Username: u.Username, ProfilePic: u.ProfilePic}
}

// Message is a stored direct message between two users.
type Message struct {
	ObjHeader `bson:",inline"`

	Sender   string `json:"sender" bson:"sender"`
	Receiver string `json:"receiver" bson:"receiver"`
	Text     string `json:"text" bson:"text"`
	// Reference to an externally stored image, empty for text-only messages.
	ImageURL string `json:"image" bson:"image"`

	// Resolved sender/receiver identities. Not stored.
	SenderUser   *UserView `json:"senderUser,omitempty" bson:"-"`
	ReceiverUser *UserView `json:"receiverUser,omitempty" bson:"-"`
}

// Reaction is a single emoji reaction on a comment.
type Reaction struct {
	User string `json:"user" bson:"user"`
	// One of "like", "love", "laugh", "angry", "sad".
	Type string `json:"type" bson:"type"`

	UserView *UserView `json:"userView,omitempty" bson:"-"`
}

// Comment is a comment attached to a post.
type Comment struct {
	Id        string     `json:"id" bson:"id"`
	User      string     `json:"user" bson:"user"`
	Text      string     `json:"text" bson:"text"`
	Reactions []Reaction `json:"reactions" bson:"reactions"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdat"`

	UserView *UserView `json:"userView,omitempty" bson:"-"`
}

// Post is a stored feed post with embedded comments.
type Post struct {
	ObjHeader `bson:",inline"`

	Author   string `json:"author" bson:"author"`
	Text     string `json:"text" bson:"text"`
	ImageURL string `json:"image" bson:"image"`
	// Ids of users who liked the post.
	Likes    []string  `json:"likes" bson:"likes"`
	Comments []Comment `json:"comments" bson:"comments"`

	AuthorUser *UserView `json:"authorUser,omitempty" bson:"-"`
}

// CommentById finds an embedded comment by id. Returns nil if not found.
func (p *Post) CommentById(id string) *Comment {
	for i := range p.Comments {
		if p.Comments[i].Id == id {
			return &p.Comments[i]
		}
	}
	return nil
}

// Notification types.
const (
	NotifLikePost        = "like_post"
	NotifCommentPost     = "comment_post"
	NotifReactionComment = "reaction_comment"
	NotifNewMessage      = "new_message"
)

// PostView is a minimal projection of a Post embedded into notifications.
type PostView struct {
	Id       string `json:"id" bson:"_id"`
	Text     string `json:"text" bson:"text"`
	ImageURL string `json:"image" bson:"image"`
}

// Notification is a stored per-user notification record.
type Notification struct {
	ObjHeader `bson:",inline"`

	Recipient string `json:"recipient" bson:"recipient"`
	Sender    string `json:"sender" bson:"sender"`
	// One of the Notif* constants.
	Type string `json:"type" bson:"type"`
	// Optional reference to the related post.
	Post string `json:"post,omitempty" bson:"post,omitempty"`
	Read bool   `json:"isRead" bson:"read"`

	SenderUser *UserView `json:"senderUser,omitempty" bson:"-"`
	PostView   *PostView `json:"postView,omitempty" bson:"-"`
}
