package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Queue    bool   `json:"queue"`
	Database *bool  `json:"database,omitempty"` // absent when the journal is disabled
}

// HTTPHandler reports whether the inbox transport is connected and, when a
// journal database is configured, whether it answers a ping. Either nil check
// is skipped.
func HTTPHandler(connected func() bool, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Queue: true}

		if connected != nil && !connected() {
			st.OK = false
			st.Queue = false
			st.Message = "queue disconnected"
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			up := db.Ping(ctx) == nil
			st.Database = &up
			if !up {
				st.OK = false
				st.Message = "db ping failed"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
