package mockservice

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxPublishBody bounds POST publish bodies.
const maxPublishBody = 32 << 10

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []int64{s.log.Timetoken()})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	pub, err1 := param(r, "pub")
	sub, err2 := param(r, "sub")
	channel, err3 := param(r, "channel")
	if err := errors.Join(err1, err2, err3); err != nil || channel == "" {
		writeJSON(w, http.StatusBadRequest, []any{0, "Invalid Channel"})
		return
	}
	if !keyMatches(s.config.PublishKey, pub) || !keyMatches(s.config.SubscribeKey, sub) {
		writeJSON(w, http.StatusOK, []any{0, "Invalid Key"})
		return
	}
	if !s.authorized(w, r, channel) {
		return
	}

	var payload []byte
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBody))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, []any{0, "Message Too Large"})
			return
		}
		payload = body
	} else {
		message, err := param(r, "message")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, []any{0, "Invalid JSON"})
			return
		}
		payload = []byte(message)
	}

	record, err := s.log.Append(r.Context(), channel, payload)
	switch {
	case errors.Is(err, ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, []any{0, "Invalid JSON"})
		return
	case errors.Is(err, ErrLogClosed):
		writeStatus(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		return
	}

	s.logger.Debug().
		Str("channel", channel).
		Int64("timetoken", record.Timetoken).
		Msg("message published")
	writeJSON(w, http.StatusOK, []any{1, "Sent", strconv.FormatInt(record.Timetoken, 10)})
}

// handleSubscribe answers timetoken 0 at once with the current timetoken.
// Otherwise it holds the request until a message newer than the timetoken is
// published on one of the channels, or the poll timeout passes.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.subscribeKeyValid(w, r) {
		return
	}
	raw, err := param(r, "channels")
	channels := splitChannels(raw)
	if err != nil || len(channels) == 0 {
		writeStatus(w, http.StatusBadRequest, "Invalid Channel")
		return
	}
	after, err := strconv.ParseInt(chi.URLParam(r, "timetoken"), 10, 64)
	if err != nil || after < 0 {
		writeStatus(w, http.StatusBadRequest, "Invalid Timetoken")
		return
	}
	if !s.authorized(w, r, channels...) {
		return
	}

	uuid := r.URL.Query().Get("uuid")
	s.presence.Touch(uuid, channels...)

	if after == 0 {
		writeSubscribe(w, nil, s.log.Timetoken(), channels)
		return
	}

	timer := time.NewTimer(s.config.PollTimeout)
	defer timer.Stop()

	for {
		changed := s.log.Changed()
		records, err := s.log.ReadAfter(r.Context(), channels, after, s.config.MaxBatch)
		switch {
		case errors.Is(err, ErrLogClosed):
			writeSubscribe(w, nil, after, channels)
			return
		case err != nil:
			return
		case len(records) > 0:
			s.presence.Touch(uuid, channels...)
			writeSubscribe(w, records, records[len(records)-1].Timetoken, channels)
			return
		}

		select {
		case <-changed:
		case <-timer.C:
			s.presence.Touch(uuid, channels...)
			writeSubscribe(w, nil, after, channels)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.subscribeKeyValid(w, r) {
		return
	}
	channel, err := param(r, "channel")
	if err != nil || channel == "" {
		writeStatus(w, http.StatusBadRequest, "Invalid Channel")
		return
	}
	limit, err := strconv.Atoi(chi.URLParam(r, "limit"))
	if err != nil || limit < 0 {
		writeStatus(w, http.StatusBadRequest, "Invalid Limit")
		return
	}
	if !s.authorized(w, r, channel) {
		return
	}

	records, err := s.log.Latest(r.Context(), channel, limit)
	switch {
	case errors.Is(err, ErrLogClosed):
		writeStatus(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		return
	}
	writeJSON(w, http.StatusOK, payloads(records))
}

func (s *Server) handleHereNow(w http.ResponseWriter, r *http.Request) {
	if !s.subscribeKeyValid(w, r) {
		return
	}
	channel, err := param(r, "channels")
	if err != nil || channel == "" {
		writeStatus(w, http.StatusBadRequest, "Invalid Channel")
		return
	}
	if !s.authorized(w, r, channel) {
		return
	}

	uuids := s.presence.Here(channel)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    http.StatusOK,
		"message":   "OK",
		"service":   "Presence",
		"uuids":     uuids,
		"occupancy": len(uuids),
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if !s.subscribeKeyValid(w, r) {
		return
	}
	raw, err := param(r, "channels")
	channels := splitChannels(raw)
	if err != nil || len(channels) == 0 {
		writeStatus(w, http.StatusBadRequest, "Invalid Channel")
		return
	}
	if !s.authorized(w, r, channels...) {
		return
	}

	uuid := r.URL.Query().Get("uuid")
	left := s.presence.Leave(uuid, channels...)
	s.logger.Debug().Str("uuid", uuid).Strs("channels", channels).Int("left", left).Msg("subscriber left")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  http.StatusOK,
		"message": "OK",
		"action":  "leave",
		"service": "Presence",
	})
}

func (s *Server) subscribeKeyValid(w http.ResponseWriter, r *http.Request) bool {
	sub, err := param(r, "sub")
	if err != nil || !keyMatches(s.config.SubscribeKey, sub) {
		writeStatus(w, http.StatusBadRequest, "Invalid Subscribe Key")
		return false
	}
	return true
}

// param returns a decoded path parameter. chi matches on the escaped path
// when the request carries one, leaving its parameters escaped.
func param(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}

func keyMatches(want, got string) bool {
	return want == "" || want == got
}

func splitChannels(raw string) []string {
	var channels []string
	for _, name := range strings.Split(raw, ",") {
		if name != "" {
			channels = append(channels, name)
		}
	}
	return channels
}

func payloads(records []Record) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, record := range records {
		out[i] = record.Payload
	}
	return out
}

// writeSubscribe writes [[messages], "timetoken"], adding the channel of
// each message as a third element when several channels were polled.
func writeSubscribe(w http.ResponseWriter, records []Record, timetoken int64, channels []string) {
	reply := []any{payloads(records), strconv.FormatInt(timetoken, 10)}
	if len(records) > 0 && len(channels) > 1 {
		names := make([]string, len(records))
		for i, record := range records {
			names[i] = record.Channel
		}
		reply = append(reply, strings.Join(names, ","))
	}
	writeJSON(w, http.StatusOK, reply)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeStatus writes an error response in the presence API shape
func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  status,
		"error":   true,
		"message": message,
	})
}
