/******************************************************************************
 *
 *  Description :
 *
 *    Notification inbox handlers. The inbox is the durable fallback for
 *    notifications that were never delivered live.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net/http"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"
	"github.com/flyrr/flyrr/server/store/types"
)

// getNotifications handles GET /api/notifications. Returns the caller's
// notifications, newest first.
func getNotifications(wrt http.ResponseWriter, req *http.Request, uid string) {
	notifs, err := store.Notifications.GetForUser(uid)
	if err != nil {
		logs.Err.Println("notifications: fetch failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, notifs)
}

// fetchOwnNotification loads a notification and verifies the caller is its
// recipient. Writes the error response on failure.
func fetchOwnNotification(wrt http.ResponseWriter, id, uid string) *types.Notification {
	notif, err := store.Notifications.Get(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "notification not found"})
			return nil
		}
		logs.Err.Println("notifications: lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return nil
	}
	if notif.Recipient != uid {
		serveJSON(wrt, http.StatusForbidden, apiError{Message: "not your notification"})
		return nil
	}
	return notif
}

// markNotificationRead handles PUT /api/notifications/{id}/read. The special
// id "all" marks the caller's entire inbox as read.
func markNotificationRead(wrt http.ResponseWriter, req *http.Request, uid string) {
	id := req.PathValue("id")

	if id == "all" {
		if err := store.Notifications.MarkAllRead(uid); err != nil {
			logs.Err.Println("notifications: mark all read failed:", err)
			serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
			return
		}
		serveJSON(wrt, http.StatusOK, map[string]string{"message": "all notifications marked as read"})
		return
	}

	if fetchOwnNotification(wrt, id, uid) == nil {
		return
	}
	if err := store.Notifications.MarkRead(id); err != nil {
		logs.Err.Println("notifications: mark read failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, map[string]string{"message": "notification marked as read"})
}

// deleteNotification handles DELETE /api/notifications/{id}.
func deleteNotification(wrt http.ResponseWriter, req *http.Request, uid string) {
	id := req.PathValue("id")
	if fetchOwnNotification(wrt, id, uid) == nil {
		return
	}
	if err := store.Notifications.Delete(id); err != nil {
		logs.Err.Println("notifications: delete failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, map[string]string{"message": "notification deleted"})
}
