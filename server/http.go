/******************************************************************************
 *
 *  Description :
 *
 *    Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flyrr/flyrr/server/logs"
	"github.com/flyrr/flyrr/server/store"
)

func listenAndServe(addr string, mux http.Handler, stop <-chan bool) error {
	globals.shuttingDown = false

	httpdone := make(chan bool)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logs.Err.Println("http: failed to start server:", err)
		}
		httpdone <- true
	}()

	logs.Info.Println("http: listening on", addr)

	// Wait for either a termination signal or an error.
Loop:
	for {
		select {
		case <-stop:
			// Mark the server as terminating so no new sessions are accepted.
			globals.shuttingDown = true
			// Give server 2 seconds to shut down.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := server.Shutdown(ctx); err != nil {
				// failure/timeout shutting down the server gracefully
				logs.Err.Println("http: server failed to terminate gracefully", err)
			}

			// While the server shuts down, terminate all sessions.
			globals.sessionStore.Shutdown()

			// Stop the hub after the sessions are terminated.
			if globals.hub != nil {
				hubdone := make(chan bool)
				globals.hub.shutdown <- hubdone
				<-hubdone
			}

			// Shutdown gracefully the DB connection.
			if err := store.Close(); err != nil {
				logs.Err.Println("http: failed to close the store:", err)
			}

			cancel()

			break Loop

		case <-httpdone:
			break Loop
		}
	}
	return nil
}

func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is
		sig := <-signchan
		logs.Info.Println("signal received:", sig)
		stop <- true
	}()

	return stop
}
