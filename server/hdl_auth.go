/******************************************************************************
 *
 *  Description :
 *
 *    Account registration and sign-in handlers.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"
	"github.com/flyrr/flyrr/server/store/types"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// signupUser handles POST /api/auth/signup.
func signupUser(wrt http.ResponseWriter, req *http.Request) {
	var body struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		ProfilePic string `json:"profilePic"`
	}
	if err := decodeRequest(req, &body); err != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "malformed request"})
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))

	if body.Username == "" || body.Email == "" || body.Password == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "all fields are required"})
		return
	}
	if !emailPattern.MatchString(body.Email) {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "invalid email address"})
		return
	}
	if len(body.Password) < minPasswordLength {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "password must be at least 6 characters"})
		return
	}

	if _, err := store.Users.GetByEmail(body.Email); err == nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "user already exists"})
		return
	} else if !errors.Is(err, types.ErrNotFound) {
		logs.Err.Println("signup: email lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		logs.Err.Println("signup: password hashing failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	user, err := store.Users.Create(&types.User{
		Username:   body.Username,
		Email:      body.Email,
		Password:   string(hash),
		ProfilePic: body.ProfilePic,
	})
	if err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			serveJSON(wrt, http.StatusBadRequest, apiError{Message: "user already exists"})
			return
		}
		logs.Err.Println("signup: user creation failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	token, err := genToken(user.Id)
	if err != nil {
		logs.Err.Println("signup: token issue failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	setAuthCookie(wrt, token)
	serveJSON(wrt, http.StatusCreated, user)
}

// loginUser handles POST /api/auth/login.
func loginUser(wrt http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeRequest(req, &body); err != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "malformed request"})
		return
	}
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	if body.Email == "" || body.Password == "" {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "all fields are required"})
		return
	}

	user, err := store.Users.GetByEmail(body.Email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusBadRequest, apiError{Message: "invalid credentials"})
			return
		}
		logs.Err.Println("login: email lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(body.Password)) != nil {
		serveJSON(wrt, http.StatusBadRequest, apiError{Message: "invalid credentials"})
		return
	}

	token, err := genToken(user.Id)
	if err != nil {
		logs.Err.Println("login: token issue failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	setAuthCookie(wrt, token)
	serveJSON(wrt, http.StatusOK, user)
}

// logoutUser handles POST /api/auth/logout.
func logoutUser(wrt http.ResponseWriter, req *http.Request) {
	setAuthCookie(wrt, "")
	serveJSON(wrt, http.StatusOK, map[string]string{"message": "logged out"})
}

// currentUser handles GET /api/auth/me.
func currentUser(wrt http.ResponseWriter, req *http.Request, uid string) {
	user, err := store.Users.Get(uid)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			serveJSON(wrt, http.StatusNotFound, apiError{Message: "user not found"})
			return
		}
		logs.Err.Println("me: user lookup failed:", err)
		serveJSON(wrt, http.StatusInternalServerError, apiError{Message: "internal error"})
		return
	}
	serveJSON(wrt, http.StatusOK, user)
}
