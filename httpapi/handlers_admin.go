package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/middleware"
)

const defaultAuditLimit = 100

type blockRequest struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
	// TTLSeconds of zero blocks permanently.
	TTLSeconds int64 `json:"ttl_seconds"`
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListBlocked(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var req blockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if req.TTLSeconds < 0 {
		middleware.WriteError(w, fmt.Errorf("%w: ttl_seconds must not be negative", authgate.ErrValidation))
		return
	}

	entry, err := s.engine.BlockSource(r.Context(), claims.SubjectID, req.Source, req.Reason, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := s.engine.UnblockSource(r.Context(), claims.SubjectID, mux.Vars(r)["source"]); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SweepExpired(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	events, err := s.engine.SearchAudit(r.Context(), criteria)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseCriteria(r *http.Request) (audit.Criteria, error) {
	q := r.URL.Query()
	c := audit.Criteria{
		Category: audit.Category(q.Get("category")),
		Action:   q.Get("action"),
		ActorID:  q.Get("actor_id"),
		Source:   q.Get("source"),
		Limit:    defaultAuditLimit,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c, fmt.Errorf("%w: limit must be a positive integer", authgate.ErrValidation)
		}
		c.Limit = n
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := audit.ParseSeverity(v)
		if err != nil {
			return c, fmt.Errorf("%w: %v", authgate.ErrValidation, err)
		}
		c.MinSeverity = sev
	}
	for key, dst := range map[string]*time.Time{"since": &c.Since, "until": &c.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c, fmt.Errorf("%w: %s must be RFC 3339", authgate.ErrValidation, key)
			}
			*dst = t
		}
	}
	return c, nil
}
