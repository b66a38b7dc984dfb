/******************************************************************************
 *
 *  Description :
 *
 *    Shared plumbing for the REST handlers: JSON encoding of requests and
 *    responses, token issuance and the authentication wrapper.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flyrr/flyrr/server/logs"
)

const authCookieName = "access_token"

// apiError is the body of every non-2xx REST response.
type apiError struct {
	Message string `json:"message"`
}

// serveJSON writes the object as the response body with the given status.
func serveJSON(wrt http.ResponseWriter, status int, body any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(wrt).Encode(body); err != nil {
		logs.Err.Println("http: failed to write response:", err)
	}
}

// decodeRequest parses the request body as JSON into the given value.
func decodeRequest(req *http.Request, val any) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(val)
}

type authClaims struct {
	UserId string `json:"uid"`
	jwt.RegisteredClaims
}

// genToken creates a signed token for the given user id.
func genToken(uid string) (string, error) {
	now := time.Now()
	claims := &authClaims{
		UserId: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(globals.tokenExpiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(globals.tokenSecret)
}

// parseToken validates the token and extracts the user id it was issued for.
func parseToken(token string) (string, error) {
	claims := &authClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return globals.tokenSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.UserId == "" {
		return "", errors.New("token carries no user id")
	}
	return claims.UserId, nil
}

// setAuthCookie attaches a session cookie with the given token to the
// response. An empty token clears the cookie.
func setAuthCookie(wrt http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(globals.tokenExpiresIn / time.Second)
	}
	http.SetCookie(wrt, cookie)
}

// authUser returns the id of the user the request was made by.
func authUser(req *http.Request) (string, error) {
	cookie, err := req.Cookie(authCookieName)
	if err != nil {
		// Fall back to the Authorization header for non-browser clients.
		if bearer := req.Header.Get("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
			return parseToken(bearer[7:])
		}
		return "", err
	}
	return parseToken(cookie.Value)
}

// authenticatedHandler is a REST handler that requires a signed-in caller.
type authenticatedHandler func(wrt http.ResponseWriter, req *http.Request, uid string)

// withAuth rejects unauthenticated requests before calling the handler.
func withAuth(h authenticatedHandler) http.HandlerFunc {
	return func(wrt http.ResponseWriter, req *http.Request) {
		uid, err := authUser(req)
		if err != nil {
			serveJSON(wrt, http.StatusUnauthorized, apiError{Message: "not authenticated"})
			return
		}
		h(wrt, req, uid)
	}
}
