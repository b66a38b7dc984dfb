/******************************************************************************
 *
 *  Description :
 *
 *    User lookup handlers.
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

const userSearchLimit = 10

// searchUsers handles GET /api/users/search?q=term. Matches usernames by
// case-insensitive prefix, excluding the caller.
func searchUsers(wrt http.ResponseWriter, req *http.Request, uid string) {
	query := strings.TrimSpace(req.URL.Query().Get("q"))
	if query == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "search query is required"})
		return
	}

	users, err := store.Users.Find(query, uid, userSearchLimit)
	if err != nil {
		logs.Err.Println("users: search failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, users)
}

// getUserByUsername handles GET /api/users/{username}.
func getUserByUsername(wrt http.ResponseWriter, req *http.Request, uid string) {
	user, err := store.Users.GetByUsername(req.PathValue("username"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "user not found"})
			return
		}
		logs.Err.Println("users: lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, user)
}
