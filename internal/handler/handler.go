// Package handler exposes the calendar services over JSON HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/visibility"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// statusFor maps an error kind to its HTTP status. Conflicts share 400 with
// validation failures.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindConflict:
		return http.StatusBadRequest
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeErr renders a service error. Internal causes are logged and never
// sent to the client.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", auth.UserID(r.Context()),
			"error", err)
	}
	writeMessage(w, statusFor(kind), apperr.Message(err))
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validationf("request body is required")
		}
		return apperr.Validationf("invalid JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}

func parseIDParam(r *http.Request) (int64, error) {
	return pathID(r, "id")
}

// parseRange reads either year and month, or startDate and endDate, from
// the query. With neither, the current month is used. A date-only endDate
// covers the whole day.
func parseRange(r *http.Request, now time.Time) (visibility.Range, error) {
	q := r.URL.Query()
	if q.Has("startDate") || q.Has("endDate") {
		start, _, err := parseFlexibleTime(q.Get("startDate"))
		if err != nil {
			return visibility.Range{}, apperr.Validationf("startDate must be RFC3339 or YYYY-MM-DD")
		}
		end, dateOnly, err := parseFlexibleTime(q.Get("endDate"))
		if err != nil {
			return visibility.Range{}, apperr.Validationf("endDate must be RFC3339 or YYYY-MM-DD")
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		rng := visibility.Range{Start: start, End: end}
		return rng, rng.Validate()
	}

	year, month := now.Year(), now.Month()
	if q.Has("year") || q.Has("month") {
		y, err := strconv.Atoi(q.Get("year"))
		if err != nil || y < 1 || y > 9999 {
			return visibility.Range{}, apperr.Validationf("invalid year")
		}
		m, err := strconv.Atoi(q.Get("month"))
		if err != nil || m < 1 || m > 12 {
			return visibility.Range{}, apperr.Validationf("month must be between 1 and 12")
		}
		year, month = y, time.Month(m)
	}
	return visibility.Month(year, month), nil
}

func parseFlexibleTime(s string) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err = time.Parse(time.DateOnly, s)
	return t, true, err
}

func queryInt(r *http.Request, name string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
