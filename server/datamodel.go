/******************************************************************************
 *
 *  Description :
 *
 *    Definition of the packets exchanged between the server and clients over
 *    the live connection.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/flyrr/flyrr/server/store/types"
)

// MsgClientOnline is a client announcement of its identity: "user such and
// such is listening on this connection". May be sent repeatedly, re-announcing
// is harmless.
type MsgClientOnline struct {
	// Id of the announcing user.
	User string `json:"user"`
}

// ClientComMessage is a wrapper for the client packets.
type ClientComMessage struct {
	Online *MsgClientOnline `json:"online"`
}

// MsgServerCtrl is a server control response to a client packet.
type MsgServerCtrl struct {
	// HTTP-style response code.
	Code int    `json:"code"`
	Text string `json:"text,omitempty"`

	Timestamp time.Time `json:"ts"`
}

// MsgPostDeleted is the payload of a post removal event.
type MsgPostDeleted struct {
	PostId string `json:"postId"`
}

// MsgPostLiked is the payload of a like/unlike event.
type MsgPostLiked struct {
	PostId string `json:"postId"`
	// Full set of user ids who like the post after the change.
	Likes      []string `json:"likes"`
	LikesCount int      `json:"likesCount"`
}

// MsgNewComment is the payload of a comment creation event.
type MsgNewComment struct {
	PostId        string         `json:"postId"`
	Comment       *types.Comment `json:"comment"`
	CommentsCount int            `json:"commentsCount"`
}

// MsgCommentDeleted is the payload of a comment removal event.
type MsgCommentDeleted struct {
	PostId        string `json:"postId"`
	CommentId     string `json:"commentId"`
	CommentsCount int    `json:"commentsCount"`
}

// MsgCommentReaction is the payload of a comment reaction change event.
type MsgCommentReaction struct {
	PostId    string `json:"postId"`
	CommentId string `json:"commentId"`
	// Full set of reactions on the comment after the change.
	Reactions []types.Reaction `json:"reactions"`
}

// ServerComMessage is a wrapper for the server-side events pushed to
// clients. Exactly one field is set per message; the set field names the
// event kind on the wire.
type ServerComMessage struct {
	// Reply to a client packet. Addressed to the originating session only.
	Ctrl *MsgServerCtrl `json:"ctrl,omitempty"`

	// Set of online user ids after a presence change. Broadcast.
	OnlineUsers []string `json:"onlineUsers,omitempty"`

	// A new direct message. Point-to-point, addressed to the receiver.
	Message *types.Message `json:"newMessage,omitempty"`
	// A new notification. Point-to-point, addressed to the recipient.
	Notification *types.Notification `json:"newNotification,omitempty"`

	// Feed events. Broadcast to all bound sessions.
	Post            *types.Post         `json:"newPost,omitempty"`
	PostDeleted     *MsgPostDeleted     `json:"postDeleted,omitempty"`
	PostLiked       *MsgPostLiked       `json:"postLiked,omitempty"`
	Comment         *MsgNewComment      `json:"newComment,omitempty"`
	CommentDeleted  *MsgCommentDeleted  `json:"commentDeleted,omitempty"`
	CommentReaction *MsgCommentReaction `json:"commentReaction,omitempty"`
}

// NoErr creates a 200 response.
func NoErr(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusOK,
		Text:      "ok",
		Timestamp: ts}}
}

// ErrMalformed creates a 400 response: could not parse the packet.
func ErrMalformed(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusBadRequest,
		Text:      "malformed",
		Timestamp: ts}}
}

// ErrMissingUser creates a 400 response: the online announcement carries no
// user id.
func ErrMissingUser(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusBadRequest,
		Text:      "missing user id",
		Timestamp: ts}}
}

// NoErrShutdown creates a 205 response: the server is shutting down, the
// client should reset and reconnect later.
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusResetContent,
		Text:      "server shutdown",
		Timestamp: ts}}
}
