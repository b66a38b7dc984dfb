package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/flyrr/flyrr/server/store"
	"github.com/flyrr/flyrr/server/store/types"
)

// boundObserver binds a throwaway user's session to the hub and starts
// capturing everything pushed to it.
func boundObserver(h *Hub) (*Session, *Responses, *sync.WaitGroup) {
	s := &Session{sid: "observer", send: make(chan any, 32)}
	h.registry.add("observer", s)

	r := &Responses{}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go s.testWriteLoop(r, wg)
	return s, r, wg
}

func TestCreatePostBroadcast(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	sess, r, wg := boundObserver(globals.hub)

	req := postJSON("/api/posts", `{"text": "first post"}`)
	w := httptest.NewRecorder()
	createPost(w, req, alice.Id)

	flushHub(globals.hub)
	close(sess.send)
	wg.Wait()

	if w.Code != http.StatusCreated {
		t.Fatalf("Status: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created types.Post
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Malformed response body: %v", err)
	}
	if created.AuthorUser == nil || created.AuthorUser.Username != "alice" {
		t.Errorf("Response must carry the resolved author, got %+v", created.AuthorUser)
	}

	if len(r.messages) != 1 {
		t.Fatalf("Broadcasts: expected 1, got %d", len(r.messages))
	}
	evt := decodeMessage(t, r.messages[0])
	if evt.Post == nil || evt.Post.Id != created.Id {
		t.Errorf("Expected newPost for %s, got %+v", created.Id, evt)
	}
}

func TestCreatePostValidation(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")

	req := postJSON("/api/posts", `{"text": "   "}`)
	w := httptest.NewRecorder()
	createPost(w, req, alice.Id)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Blank post: expected 400, got %d", w.Code)
	}
}

func TestDeletePostAuthorOnly(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	post, err := store.Posts.Save(&types.Post{Author: alice.Id, Text: "mine"})
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/posts/"+post.Id, nil)
	req.SetPathValue("id", post.Id)
	w := httptest.NewRecorder()
	deletePost(w, req, bob.Id)
	if w.Code != http.StatusForbidden {
		t.Errorf("Foreign delete: expected 403, got %d", w.Code)
	}
	if _, err = store.Posts.Get(post.Id); err != nil {
		t.Errorf("Post must survive a forbidden delete: %v", err)
	}

	sess, r, wg := boundObserver(globals.hub)

	req = httptest.NewRequest(http.MethodDelete, "/api/posts/"+post.Id, nil)
	req.SetPathValue("id", post.Id)
	w = httptest.NewRecorder()
	deletePost(w, req, alice.Id)

	flushHub(globals.hub)
	close(sess.send)
	wg.Wait()

	if w.Code != http.StatusOK {
		t.Fatalf("Author delete: expected 200, got %d", w.Code)
	}
	if _, err = store.Posts.Get(post.Id); err != types.ErrNotFound {
		t.Errorf("Post must be gone, got err %v", err)
	}
	if len(r.messages) != 1 {
		t.Fatalf("Broadcasts: expected 1, got %d", len(r.messages))
	}
	evt := decodeMessage(t, r.messages[0])
	if evt.PostDeleted == nil || evt.PostDeleted.PostId != post.Id {
		t.Errorf("Expected postDeleted for %s, got %+v", post.Id, evt)
	}
}

func TestToggleLike(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	post, err := store.Posts.Save(&types.Post{Author: alice.Id, Text: "like me"})
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	like := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/posts/"+post.Id+"/like", nil)
		req.SetPathValue("id", post.Id)
		w := httptest.NewRecorder()
		toggleLike(w, req, uid)
		return w
	}

	if w := like(bob.Id); w.Code != http.StatusOK {
		t.Fatalf("Like: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := store.Posts.Get(post.Id)
	if len(stored.Likes) != 1 || stored.Likes[0] != bob.Id {
		t.Errorf("Likes after like: expected [%s], got %v", bob.Id, stored.Likes)
	}

	// The author gets exactly one like notification.
	notifs, _ := store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 1 || notifs[0].Type != types.NotifLikePost {
		t.Fatalf("Author notifications: expected one like_post, got %+v", notifs)
	}
	if notifs[0].Post != post.Id {
		t.Errorf("Notification post: expected %s, got %s", post.Id, notifs[0].Post)
	}

	// Unlike removes the like but produces no notification.
	if w := like(bob.Id); w.Code != http.StatusOK {
		t.Fatalf("Unlike: expected 200, got %d", w.Code)
	}
	stored, _ = store.Posts.Get(post.Id)
	if len(stored.Likes) != 0 {
		t.Errorf("Likes after unlike: expected none, got %v", stored.Likes)
	}
	notifs, _ = store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 1 {
		t.Errorf("Notifications after unlike: expected still 1, got %d", len(notifs))
	}
}

func TestLikeOwnPostNoNotification(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	post, err := store.Posts.Save(&types.Post{Author: alice.Id, Text: "self like"})
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/posts/"+post.Id+"/like", nil)
	req.SetPathValue("id", post.Id)
	w := httptest.NewRecorder()
	toggleLike(w, req, alice.Id)
	if w.Code != http.StatusOK {
		t.Fatalf("Like: expected 200, got %d", w.Code)
	}

	notifs, _ := store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 0 {
		t.Errorf("Own like must produce no notification, got %d", len(notifs))
	}
}

func TestAddAndDeleteComment(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	post, err := store.Posts.Save(&types.Post{Author: alice.Id, Text: "discuss"})
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	req := postJSON("/api/posts/"+post.Id+"/comments", `{"text": "nice one"}`)
	req.SetPathValue("id", post.Id)
	w := httptest.NewRecorder()
	addComment(w, req, bob.Id)
	if w.Code != http.StatusCreated {
		t.Fatalf("Comment: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var comment types.Comment
	if err = json.Unmarshal(w.Body.Bytes(), &comment); err != nil {
		t.Fatalf("Malformed response body: %v", err)
	}
	if comment.Id == "" || comment.User != bob.Id {
		t.Fatalf("Unexpected comment: %+v", comment)
	}

	notifs, _ := store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 1 || notifs[0].Type != types.NotifCommentPost {
		t.Errorf("Author notifications: expected one comment_post, got %+v", notifs)
	}

	// Only the comment's author may remove it.
	del := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete,
			"/api/posts/"+post.Id+"/comments/"+comment.Id, nil)
		req.SetPathValue("id", post.Id)
		req.SetPathValue("commentId", comment.Id)
		w := httptest.NewRecorder()
		deleteComment(w, req, uid)
		return w
	}

	if w := del(alice.Id); w.Code != http.StatusForbidden {
		t.Errorf("Foreign comment delete: expected 403, got %d", w.Code)
	}
	if w := del(bob.Id); w.Code != http.StatusOK {
		t.Errorf("Own comment delete: expected 200, got %d", w.Code)
	}
	stored, _ := store.Posts.Get(post.Id)
	if len(stored.Comments) != 0 {
		t.Errorf("Comments after delete: expected none, got %d", len(stored.Comments))
	}
}

func TestToggleCommentReaction(t *testing.T) {
	openTestStore(t)
	globals.hub = testHub()
	defer stopHub(globals.hub)

	alice := createTestUser(t, "alice")
	bob := createTestUser(t, "bob")

	post, err := store.Posts.Save(&types.Post{
		Author: alice.Id,
		Text:   "react to this",
		Comments: []types.Comment{
			{Id: "c1", User: alice.Id, Text: "root", CreatedAt: types.TimeNow()},
		},
	})
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	react := func(uid, kind string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut,
			"/api/posts/"+post.Id+"/comments/c1/reaction",
			strings.NewReader(`{"type": "`+kind+`"}`))
		req.SetPathValue("id", post.Id)
		req.SetPathValue("commentId", "c1")
		w := httptest.NewRecorder()
		toggleCommentReaction(w, req, uid)
		return w
	}

	// New reaction is added and the comment's author is notified.
	if w := react(bob.Id, "love"); w.Code != http.StatusOK {
		t.Fatalf("React: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := store.Posts.Get(post.Id)
	reactions := stored.CommentById("c1").Reactions
	if len(reactions) != 1 || reactions[0].Type != "love" {
		t.Fatalf("Reactions: expected [love], got %+v", reactions)
	}
	notifs, _ := store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 1 || notifs[0].Type != types.NotifReactionComment {
		t.Errorf("Expected one reaction_comment notification, got %+v", notifs)
	}

	// A different type replaces the reaction, no new notification.
	react(bob.Id, "laugh")
	stored, _ = store.Posts.Get(post.Id)
	reactions = stored.CommentById("c1").Reactions
	if len(reactions) != 1 || reactions[0].Type != "laugh" {
		t.Errorf("Reactions after replace: expected [laugh], got %+v", reactions)
	}
	notifs, _ = store.Notifications.GetForUser(alice.Id)
	if len(notifs) != 1 {
		t.Errorf("Notifications after replace: expected still 1, got %d", len(notifs))
	}

	// The same type removes the reaction.
	react(bob.Id, "laugh")
	stored, _ = store.Posts.Get(post.Id)
	if got := stored.CommentById("c1").Reactions; len(got) != 0 {
		t.Errorf("Reactions after toggle off: expected none, got %+v", got)
	}

	// Unknown reaction type is rejected.
	if w := react(bob.Id, "meh"); w.Code != http.StatusBadRequest {
		t.Errorf("Unknown reaction: expected 400, got %d", w.Code)
	}
}
