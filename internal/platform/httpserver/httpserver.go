package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with the project's timeouts. WriteTimeout leaves
// room for approvals that wait on a ledger receipt.
func New(addr string, handler http.Handler, ledgerConfirmTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      ledgerConfirmTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
