package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/safety"
	"github.com/BadgerOps/easysave/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type logEntryJSON struct {
	ID              string    `json:"id"`
	RunID           string    `json:"RunID,omitempty"`
	Name            string    `json:"Name"`
	Source          string    `json:"Source"`
	Target          string    `json:"Target"`
	Size            int64     `json:"Size"`
	TransferTime    int64     `json:"TransferTime"`
	EncryptionTime  int64     `json:"EncryptionTime"`
	Timestamp       time.Time `json:"Timestamp"`
	MachineIdentity string    `json:"MachineIdentity"`
	UserIdentity    string    `json:"UserIdentity"`
	Error           string    `json:"Error,omitempty"`
	RemoteAddr      string    `json:"remote_addr"`
	ReceivedAt      time.Time `json:"received_at"`
}

func recordToJSON(r store.LogRecord) logEntryJSON {
	return logEntryJSON{
		ID:              r.ID,
		RunID:           r.RunID,
		Name:            r.Name,
		Source:          r.Source,
		Target:          r.Target,
		Size:            r.Size,
		TransferTime:    r.TransferTime,
		EncryptionTime:  r.EncryptionTime,
		Timestamp:       r.Timestamp,
		MachineIdentity: r.MachineIdentity,
		UserIdentity:    r.UserIdentity,
		Error:           r.Error,
		RemoteAddr:      r.RemoteAddr,
		ReceivedAt:      r.ReceivedAt,
	}
}

// parseEntry validates a posted log entry and extracts its fields.
func parseEntry(body []byte) (logsink.Entry, error) {
	if !gjson.ValidBytes(body) {
		return logsink.Entry{}, errors.New("body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return logsink.Entry{}, errors.New("body must be a JSON object")
	}

	var e logsink.Entry
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"Name", &e.Name},
		{"Source", &e.Source},
		{"Target", &e.Target},
	} {
		v := doc.Get(f.key)
		if v.Type != gjson.String || v.Str == "" {
			return logsink.Entry{}, fmt.Errorf("%s is required and must be a string", f.key)
		}
		*f.dst = v.Str
	}

	for _, f := range []struct {
		key string
		dst *int64
	}{
		{"Size", &e.Size},
		{"TransferTime", &e.TransferTime},
		{"EncryptionTime", &e.EncryptionTime},
	} {
		v := doc.Get(f.key)
		if !v.Exists() {
			continue
		}
		if v.Type != gjson.Number {
			return logsink.Entry{}, fmt.Errorf("%s must be a number", f.key)
		}
		*f.dst = v.Int()
	}
	if e.Size < 0 {
		return logsink.Entry{}, errors.New("Size must not be negative")
	}

	if ts := doc.Get("Timestamp"); ts.Exists() {
		t, err := time.Parse(time.RFC3339Nano, ts.String())
		if ts.Type != gjson.String || err != nil {
			return logsink.Entry{}, errors.New("Timestamp must be an RFC 3339 string")
		}
		e.Timestamp = t
	}

	e.MachineIdentity = doc.Get("MachineIdentity").String()
	e.UserIdentity = doc.Get("UserIdentity").String()
	e.RunID = doc.Get("RunID").String()
	e.Error = doc.Get("Error").String()
	return e, nil
}

// handleIngestLog stores one posted log entry.
func (s *Server) handleIngestLog(w http.ResponseWriter, r *http.Request) {
	body, err := safety.ReadAllWithLimit(r.Body, MaxBodyBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "log entry too large")
			return
		}
		jsonError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	entry, err := parseEntry(body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.InsertLogEntry(entry, r.RemoteAddr)
	if err != nil {
		s.logger.Error("failed to store log entry", "job", entry.Name, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to store log entry")
		return
	}
	s.logger.Debug("log entry received", "id", rec.ID, "job", rec.Name, "remote", rec.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(recordToJSON(*rec))
}

// handleListLogs returns the most recent entries, optionally for one job.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := s.store.ListLogEntries(r.URL.Query().Get("name"), limit)
	if err != nil {
		s.logger.Error("failed to list log entries", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list log entries")
		return
	}

	result := make([]logEntryJSON, 0, len(records))
	for _, rec := range records {
		result = append(result, recordToJSON(rec))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountLogEntries()
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "entries": count})
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
