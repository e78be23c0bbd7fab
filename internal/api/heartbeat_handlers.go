package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/store"
)

// HandleGetHeartbeats lists heartbeats matching criteria filters
func HandleGetHeartbeats(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.ParseQuery(r.URL.Query(), store.HeartbeatFields)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		listHeartbeats(w, r.Context(), s, q, logger)
	}
}

func listHeartbeats(w http.ResponseWriter, ctx context.Context, s *store.Store, q store.Query, logger *zap.Logger) {
	heartbeats, err := s.ListHeartbeats(ctx, q)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	total, err := s.CountHeartbeats(ctx, q.Filters)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	setTotalCount(w, total)
	writeJSON(w, http.StatusOK, heartbeats)
}

// HandleCountHeartbeats counts heartbeats matching criteria filters
func HandleCountHeartbeats(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.ParseQuery(r.URL.Query(), store.HeartbeatFields)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		count, err := s.CountHeartbeats(r.Context(), q.Filters)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, count)
	}
}

// HandleGetHeartbeat returns a single heartbeat by ID
func HandleGetHeartbeat(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		hb, err := s.GetHeartbeat(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, hb)
	}
}

// HandleHeartbeatImmutable rejects writes. Heartbeats are produced only by
// the engine.
func HandleHeartbeatImmutable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		writeMessage(w, http.StatusMethodNotAllowed, "heartbeats are read-only")
	}
}
