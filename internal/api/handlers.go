package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"scanwedge/internal/logging"
	"scanwedge/internal/metrics"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/store"
)

const maxBodyBytes = 1 << 20

// Response is the body of every record submission answer.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id,omitempty"`
}

// RecordView is a stored record as listed by the API.
type RecordView struct {
	ID          int64          `json:"id"`
	ClientID    string         `json:"client_id"`
	Form        string         `json:"form"`
	Fields      map[string]any `json:"fields"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats()
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// exportMetrics refreshes the stored-record gauges and writes the registry.
func (s *Server) exportMetrics(w http.ResponseWriter, r *http.Request) {
	if st, err := s.store.Stats(); err == nil {
		s.metrics.SetStored(st.Records)
	}
	s.metrics.Registry().Handler().ServeHTTP(w, r)
}

func (s *Server) accepts(form string) bool {
	_, ok := s.forms[form]
	return ok || s.extra[form]
}

// submitRecord stores one record. Failures are reported in the body with
// success false so workstations can show the message as is.
func (s *Server) submitRecord(w http.ResponseWriter, r *http.Request) {
	form := mux.Vars(r)["form"]
	log := s.log.With("form", form, "request_id", logging.RequestIDFromContext(r.Context()))

	if !s.accepts(form) {
		s.reply(w, http.StatusNotFound, metrics.ResultUnknown, Response{Message: "unknown form: " + form})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.reply(w, http.StatusBadRequest, metrics.ResultInvalid, Response{Message: "read body: " + err.Error()})
		return
	}
	env, err := schemavalidation.DecodeEnvelope(body)
	if err != nil {
		s.reply(w, http.StatusBadRequest, metrics.ResultInvalid, Response{Message: err.Error()})
		return
	}
	if v, ok := s.forms[form]; ok {
		if err := v.Validate(env.Fields); err != nil {
			s.reply(w, http.StatusUnprocessableEntity, metrics.ResultInvalid, Response{Message: err.Error()})
			return
		}
	}

	fp, err := store.Fingerprint(form, env.Fields)
	if err != nil {
		s.reply(w, http.StatusBadRequest, metrics.ResultInvalid, Response{Message: err.Error()})
		return
	}
	existing, err := s.store.FindByFingerprint(form, fp)
	if err != nil {
		log.Error("lookup record", "error", err)
		s.reply(w, http.StatusInternalServerError, metrics.ResultError, Response{Message: "storage error"})
		return
	}
	if existing != nil {
		s.reply(w, http.StatusConflict, metrics.ResultDuplicate, Response{Message: "already recorded", ID: existing.ID})
		return
	}

	rec := &store.Record{
		ClientID:    env.ClientID,
		Form:        form,
		Fields:      env.Fields,
		Fingerprint: fp,
		Synced:      true,
		CreatedAt:   s.now(),
	}
	id, err := s.store.InsertRecord(rec)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		s.reply(w, http.StatusConflict, metrics.ResultDuplicate, Response{Message: "already recorded"})
		return
	case err != nil:
		log.Error("insert record", "error", err)
		s.reply(w, http.StatusInternalServerError, metrics.ResultError, Response{Message: "storage error"})
		return
	}

	log.Info("record stored", "id", id, "client_id", rec.ClientID)
	s.reply(w, http.StatusCreated, metrics.ResultRecorded, Response{Success: true, Message: "recorded", ID: id})
}

// reply answers a record submission and counts its outcome.
func (s *Server) reply(w http.ResponseWriter, status int, result string, resp Response) {
	s.metrics.ObserveRecord(result)
	writeJSON(w, status, resp)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	form := mux.Vars(r)["form"]
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.store.ListRecords(form, limit)
	if err != nil {
		s.log.Error("list records", "form", form, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	out := make([]RecordView, len(recs))
	for i, rec := range recs {
		out[i] = RecordView{
			ID:          rec.ID,
			ClientID:    rec.ClientID,
			Form:        rec.Form,
			Fields:      rec.Fields,
			Fingerprint: rec.FingerprintHex(),
			CreatedAt:   rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) formSchema(w http.ResponseWriter, r *http.Request) {
	v, ok := s.forms[mux.Vars(r)["form"]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(v.Document())
}
