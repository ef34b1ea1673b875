package main

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/logging"
)

// receiver is a local endpoint for exercising the actor by hand: it can be
// slow, flaky or demand basic auth.
type receiver struct {
	cfg      config.FakeReceiver
	reqCount atomic.Int64
	logger   *logging.Logger
}

func main() {
	cfg := config.FromEnv().FakeReceiver
	logger := logging.New("fake-receiver")
	rcv := &receiver{cfg: cfg, logger: logger}

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      rcv.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	logger.Plain().WithFields(map[string]any{
		"addr":         cfg.Port,
		"fail_first_n": cfg.FailFirstN,
		"delay_ms":     cfg.ResponseDelayMS,
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()
	entry := rc.logger.Plain().WithRequest(r.Method, r.URL.Path).WithFields(map[string]any{
		"request": n,
		"headers": len(r.Header),
		"body":    truncate(string(b), 160),
	})

	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rc.cfg.Username != "" && !checkBasicAuth(r, rc.cfg.Username, rc.cfg.Password) {
		entry.Warn("rejected credentials")
		w.Header().Set("WWW-Authenticate", `Basic realm="fake-receiver"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if d := time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond; d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			entry.Warn("client went away during delay")
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		entry.Warnf("FAILING (%d/%d)", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	entry.Info("fake-receiver OK")
	status := rc.cfg.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, rc.cfg.ResponseBody)
}

func checkBasicAuth(r *http.Request, user, pass string) bool {
	u, p, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
	return userOK && passOK
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
