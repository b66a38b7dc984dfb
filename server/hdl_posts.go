/******************************************************************************
 *
 *  Description :
 *
 *    Feed post handlers: posts, likes, comments and comment reactions.
 *    Every mutation is made durable first, then announced to all bound
 *    sessions; mutations that concern another user additionally produce a
 *    stored notification pushed to that user alone.
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

const (
	maxPostLength    = 2000
	maxCommentLength = 500
)

var validReactions = map[string]bool{
	"like": true, "love": true, "laugh": true, "angry": true, "sad": true,
}

// fetchPost loads a post by id and writes the error response on failure.
func fetchPost(wrt http.ResponseWriter, id string) *types.Post {
	if id == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "post id is required"})
		return nil
	}
	post, err := store.Posts.Get(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "post not found"})
			return nil
		}
		logs.Err.Println("posts: fetch failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return nil
	}
	return post
}

// notifyUser stores a notification and pushes it to the recipient's live
// sessions. Persistence failure is logged but does not fail the request:
// the triggering mutation is already durable.
func notifyUser(recipient, sender, what, postId string) {
	if recipient == sender {
		// No notifications for acting on one's own content.
		return
	}
	notif, err := store.Notifications.Save(&types.Notification{
		Recipient: recipient,
		Sender:    sender,
		Type:      what,
		Post:      postId,
	})
	if err != nil {
		logs.Err.Println("posts: notification save failed:", err)
		return
	}
	routeNotification(notif)
}

// createPost handles POST /api/posts.
func createPost(wrt http.ResponseWriter, req *http.Request, uid string) {
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
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "post must have text or an image"})
		return
	}
	if len(body.Text) > maxPostLength {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "post text is too long"})
		return
	}

	post, err := store.Posts.Save(&types.Post{
		Author:   uid,
		Text:     body.Text,
		ImageURL: body.ImageURL,
		Likes:    []string{},
		Comments: []types.Comment{},
	})
	if err != nil {
		logs.Err.Println("posts: save failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	broadcastAll(&ServerComMessage{Post: post})
	serveJSON(wrt, http.StatusCreated, post)
}

// getAllPosts handles GET /api/posts.
func getAllPosts(wrt http.ResponseWriter, req *http.Request, uid string) {
	posts, err := store.Posts.GetAll()
	if err != nil {
		logs.Err.Println("posts: feed fetch failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, posts)
}

// getPostById handles GET /api/posts/{id}.
func getPostById(wrt http.ResponseWriter, req *http.Request, uid string) {
	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}
	serveJSON(wrt, http.StatusOK, post)
}

// getPostsByUser handles GET /api/posts/user/{username}.
func getPostsByUser(wrt http.ResponseWriter, req *http.Request, uid string) {
	user, err := store.Users.GetByUsername(req.PathValue("username"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "user not found"})
			return
		}
		logs.Err.Println("posts: user lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	posts, err := store.Posts.GetByAuthor(user.Id)
	if err != nil {
		logs.Err.Println("posts: author fetch failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, posts)
}

// deletePost handles DELETE /api/posts/{id}.
func deletePost(wrt http.ResponseWriter, req *http.Request, uid string) {
	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}
	if post.Author != uid {
		serveJSON(wrt, http.StatusForbidden, apiError{Message: "you can delete only your own posts"})
		return
	}

	if err := store.Posts.Delete(post.Id); err != nil {
		logs.Err.Println("posts: delete failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	broadcastAll(&ServerComMessage{PostDeleted: &MsgPostDeleted{PostId: post.Id}})
	serveJSON(wrt, http.StatusOK, map[string]string{"message": "post deleted"})
}

// toggleLike handles PUT /api/posts/{id}/like.
func toggleLike(wrt http.ResponseWriter, req *http.Request, uid string) {
	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}

	liked := false
	likes := post.Likes[:0:0]
	for _, u := range post.Likes {
		if u == uid {
			liked = true
			continue
		}
		likes = append(likes, u)
	}
	if !liked {
		likes = append(likes, uid)
	}
	post.Likes = likes

	if _, err := store.Posts.Update(post); err != nil {
		logs.Err.Println("posts: like update failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	broadcastAll(&ServerComMessage{PostLiked: &MsgPostLiked{
		PostId:     post.Id,
		Likes:      post.Likes,
		LikesCount: len(post.Likes),
	}})

	if !liked {
		notifyUser(post.Author, uid, types.NotifLikePost, post.Id)
	}

	serveJSON(wrt, http.StatusOK, post)
}

// addComment handles POST /api/posts/{id}/comments.
func addComment(wrt http.ResponseWriter, req *http.Request, uid string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeRequest(req, &body); err != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "malformed request"})
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "comment text is required"})
		return
	}
	if len(body.Text) > maxCommentLength {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "comment text is too long"})
		return
	}

	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}

	comment := types.Comment{
		Id:        store.GetUidString(),
		User:      uid,
		Text:      body.Text,
		Reactions: []types.Reaction{},
		CreatedAt: types.TimeNow(),
	}
	post.Comments = append(post.Comments, comment)

	post, err := store.Posts.Update(post)
	if err != nil {
		logs.Err.Println("posts: comment update failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	saved := post.CommentById(comment.Id)
	broadcastAll(&ServerComMessage{Comment: &MsgNewComment{
		PostId:        post.Id,
		Comment:       saved,
		CommentsCount: len(post.Comments),
	}})

	notifyUser(post.Author, uid, types.NotifCommentPost, post.Id)

	serveJSON(wrt, http.StatusCreated, saved)
}

// deleteComment handles DELETE /api/posts/{id}/comments/{commentId}.
func deleteComment(wrt http.ResponseWriter, req *http.Request, uid string) {
	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}

	commentId := req.PathValue("commentId")
	comment := post.CommentById(commentId)
	if comment == nil {
		serveJSON(wrt, http.StatusNotFound, apiError{Message: "comment not found"})
		return
	}
	if comment.User != uid {
		serveJSON(wrt, http.StatusForbidden, apiError{Message: "you can delete only your own comments"})
		return
	}

	comments := post.Comments[:0:0]
	for _, c := range post.Comments {
		if c.Id != commentId {
			comments = append(comments, c)
		}
	}
	post.Comments = comments

	if _, err := store.Posts.Update(post); err != nil {
		logs.Err.Println("posts: comment removal failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	broadcastAll(&ServerComMessage{CommentDeleted: &MsgCommentDeleted{
		PostId:        post.Id,
		CommentId:     commentId,
		CommentsCount: len(post.Comments),
	}})
	serveJSON(wrt, http.StatusOK, map[string]string{"message": "comment deleted"})
}

// toggleCommentReaction handles PUT /api/posts/{id}/comments/{commentId}/reaction.
// Reacting with the type already set removes the reaction, a different type
// replaces it, otherwise a new reaction is added.
func toggleCommentReaction(wrt http.ResponseWriter, req *http.Request, uid string) {
	var body struct {
		Type string `json:"type"`
	}
	if err := decodeRequest(req, &body); err != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "malformed request"})
		return
	}
	if !validReactions[body.Type] {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "unknown reaction type"})
		return
	}

	post := fetchPost(wrt, req.PathValue("id"))
	if post == nil {
		return
	}
	comment := post.CommentById(req.PathValue("commentId"))
	if comment == nil {
		serveJSON(wrt, http.StatusNotFound, apiError{Message: "comment not found"})
		return
	}

	added := true
	reactions := comment.Reactions[:0:0]
	for _, r := range comment.Reactions {
		if r.User != uid {
			reactions = append(reactions, r)
			continue
		}
		added = false
		if r.Type != body.Type {
			// Different type replaces the existing reaction.
			reactions = append(reactions, types.Reaction{User: uid, Type: body.Type})
		}
		// Same type falls through and removes it.
	}
	if added {
		reactions = append(reactions, types.Reaction{User: uid, Type: body.Type})
	}
	comment.Reactions = reactions

	post, err := store.Posts.Update(post)
	if err != nil {
		logs.Err.Println("posts: reaction update failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	comment = post.CommentById(comment.Id)

	broadcastAll(&ServerComMessage{CommentReaction: &MsgCommentReaction{
		PostId:    post.Id,
		CommentId: comment.Id,
		Reactions: comment.Reactions,
	}})

	if added {
		notifyUser(comment.User, uid, types.NotifReactionComment, post.Id)
	}

	serveJSON(wrt, http.StatusOK, comment)
}
