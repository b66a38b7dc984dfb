/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"

	// Backend store driver.
	_ "github.com/flyrr/flyrr/server/db/mongodb"
)

const (
	// currentVersion is the current API/protocol version.
	currentVersion = "0.1"

	// defaultMaxMessageSize is the default maximum message size.
	defaultMaxMessageSize = 1 << 19 // 512K

	// defaultTokenExpiresIn is the default lifetime of an issued auth token.
	defaultTokenExpiresIn = 14 * 24 * time.Hour
)

// Large parts of the server state are global. Stuff which needs to be
// reachable from the session handlers and the HTTP handlers alike.
var globals struct {
	// Event router, nil if the live subsystem failed to initialize.
	hub *Hub

	// Sessions potentially attached to users.
	sessionStore *SessionStore

	// Credential for signing auth tokens.
	tokenSecret []byte
	// Lifetime of issued auth tokens.
	tokenExpiresIn time.Duration

	// Maximum message size allowed from the clients.
	maxMessageSize int64
	// Websocket per-message compression negotiation.
	wsCompression bool

	// Buffered channel to report stats updates.
	statsUpdate chan *varUpdate

	// Server is shutting down, do not accept new connections.
	shuttingDown bool
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats as expvars. Disabled if empty.
	ExpvarPath string `json:"expvar"`
	// URL path for exposing runtime stats in Prometheus format. Disabled if empty.
	MetricsPath string `json:"metrics"`
	// Origins allowed to make cross-origin API calls.
	CORSOrigins []string `json:"cors_origins"`
	// Maximum message size allowed from client in bytes.
	MaxMessageSize int64 `json:"max_message_size"`
	// Enable websocket per-message compression negotiation.
	WSCompression bool `json:"ws_compression"`
	// Secret for signing auth tokens.
	TokenSecret string `json:"token_secret"`
	// Lifetime of issued auth tokens, seconds.
	TokenExpiresIn int `json:"token_expires_in"`
	// Configuration of the database store.
	Store json.RawMessage `json:"store_config"`
}

func main() {
	executable, _ := os.Executable()
	logs.Info.Printf("Server v%s pid %d started with %d process(es)",
		currentVersion, os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	var configfile = flag.String("config", "flyrr.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	var resetDb = flag.Bool("reset_db", false, "Reset and re-initialize the database.")
	flag.Parse()

	*configfile = toAbsolutePath(filepath.Dir(executable), *configfile)
	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file:", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.Listen == "" {
		config.Listen = ":10000"
	}

	if config.TokenSecret == "" {
		logs.Err.Fatal("Config: token_secret is required")
	}
	globals.tokenSecret = []byte(config.TokenSecret)

	globals.tokenExpiresIn = defaultTokenExpiresIn
	if config.TokenExpiresIn > 0 {
		globals.tokenExpiresIn = time.Duration(config.TokenExpiresIn) * time.Second
	}

	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}
	globals.wsCompression = config.WSCompression

	if err := store.Open(1, config.Store); err != nil {
		logs.Err.Fatal("Failed to connect to DB:", err)
	}
	logs.Info.Println("DB adapter:", store.GetAdapterName())
	defer func() {
		store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()

	if *resetDb {
		if err := store.InitDb(true); err != nil {
			logs.Err.Fatal("Failed to initialize DB:", err)
		}
		logs.Info.Println("Database reset and initialized")
	}

	mux := http.NewServeMux()

	// Initialize the stats variable reporting before anything registers
	// counters.
	statsInit(mux, config.ExpvarPath, config.MetricsPath)

	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()

	// Websocket endpoint: live event delivery and presence.
	mux.HandleFunc("/channels", serveWebSocket)

	mux.HandleFunc("POST /api/auth/signup", signupUser)
	mux.HandleFunc("POST /api/auth/login", loginUser)
	mux.HandleFunc("POST /api/auth/logout", logoutUser)
	mux.HandleFunc("GET /api/auth/me", withAuth(currentUser))

	mux.HandleFunc("GET /api/messages/contacts", withAuth(getContacts))
	mux.HandleFunc("GET /api/messages/chats", withAuth(getChats))
	mux.HandleFunc("GET /api/messages/{id}", withAuth(getMessages))
	mux.HandleFunc("POST /api/messages/send/{id}", withAuth(sendMessage))

	mux.HandleFunc("POST /api/posts", withAuth(createPost))
	mux.HandleFunc("GET /api/posts", withAuth(getAllPosts))
	mux.HandleFunc("GET /api/posts/{id}", withAuth(getPostById))
	mux.HandleFunc("GET /api/posts/user/{username}", withAuth(getPostsByUser))
	mux.HandleFunc("DELETE /api/posts/{id}", withAuth(deletePost))
	mux.HandleFunc("PUT /api/posts/{id}/like", withAuth(toggleLike))
	mux.HandleFunc("POST /api/posts/{id}/comments", withAuth(addComment))
	mux.HandleFunc("DELETE /api/posts/{id}/comments/{commentId}", withAuth(deleteComment))
	mux.HandleFunc("PUT /api/posts/{id}/comments/{commentId}/reaction", withAuth(toggleCommentReaction))

	mux.HandleFunc("GET /api/notifications", withAuth(getNotifications))
	mux.HandleFunc("PUT /api/notifications/{id}/read", withAuth(markNotificationRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", withAuth(deleteNotification))

	mux.HandleFunc("GET /api/users/search", withAuth(searchUsers))
	mux.HandleFunc("GET /api/users/{username}", withAuth(getUserByUsername))

	var handler http.Handler = mux
	if len(config.CORSOrigins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(config.CORSOrigins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			handlers.AllowCredentials(),
		)(handler)
	}
	handler = handlers.CombinedLoggingHandler(os.Stdout, handler)

	if err := listenAndServe(config.Listen, handler, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}

// toAbsolutePath converts a relative filepath to absolute against the given
// base path.
func toAbsolutePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(base, path))
}
