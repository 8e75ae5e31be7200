package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Overland-East-Bay/club-sync/internal/app/club"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clock"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	maxBodyBytes        = 1 << 20
)

// Settler waits until backend traffic started by a sync has died down.
type Settler interface {
	WaitDrained(ctx context.Context) error
}

// Server serves the viewer API over the local store and the club use cases.
type Server struct {
	Club  *club.Service
	Bus   *notify.Bus
	Idem  idempotency.Store
	Clock clock.Clock

	// Settle is optional. When set, POST /sync also waits for the detail
	// syncs it triggered and publishes sync-settled.
	Settle Settler
}

func NewServer(clubSvc *club.Service, bus *notify.Bus, idem idempotency.Store, clk clock.Clock) *Server {
	return &Server{
		Club:  clubSvc,
		Bus:   bus,
		Idem:  idem,
		Clock: clk,
	}
}

func (s *Server) ListDivisions(w http.ResponseWriter, r *http.Request) {
	var status *domain.MembershipStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.MembershipStatus(strings.ToUpper(v))
		if !st.Valid() {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid status", map[string]any{"status": "must be MEMBER, FORMER_MEMBER or NO_MEMBER"})
			return
		}
		status = &st
	}
	ds, err := s.Club.Divisions(r.Context(), status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]Division, 0, len(ds))
	for _, d := range ds {
		out = append(out, divisionFromDomain(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": out})
}

func (s *Server) GetDivision(w http.ResponseWriter, r *http.Request) {
	d, err := s.Club.Division(r.Context(), domain.DivisionID(chi.URLParam(r, "divisionId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"division": divisionFromDomain(d)})
}

func (s *Server) ListDivisionMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxMessageLimit {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid limit", map[string]any{"limit": "must be between 1 and 500"})
			return
		}
		limit = n
	}
	ms, err := s.Club.DivisionMessages(r.Context(), domain.DivisionID(chi.URLParam(r, "divisionId")), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, messageFromDomain(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) GetInbox(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Club.Inbox(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]InboxEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, inboxEntryFromDomain(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"inbox": out})
}

func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	from, ok := timeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := timeParam(w, r, "to")
	if !ok {
		return
	}
	es, err := s.Club.Events(r.Context(), from, to)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]Event, 0, len(es))
	for _, e := range es {
		out = append(out, eventFromDomain(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func timeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid "+name, map[string]any{name: "must be an RFC 3339 timestamp"})
		return nil, false
	}
	return &t, true
}

func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	s.writeEventDetail(w, r, domain.EventID(chi.URLParam(r, "eventId")))
}

func (s *Server) writeEventDetail(w http.ResponseWriter, r *http.Request, id domain.EventID) {
	d, err := s.Club.EventDetail(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventDetailFromDomain(d))
}

func (s *Server) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := domain.EventID(chi.URLParam(r, "eventId"))
	var body UpdateEventRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ReminderOffsetMinutes.IsSpecified() {
		var offset *time.Duration
		if !body.ReminderOffsetMinutes.IsNull() {
			v, err := body.ReminderOffsetMinutes.Get()
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			d := time.Duration(v) * time.Minute
			offset = &d
		}
		if err := s.Club.SetEventReminder(r.Context(), id, offset); err != nil {
			writeAppError(w, r, err)
			return
		}
	}
	s.writeEventDetail(w, r, id)
}

func (s *Server) RespondToEvent(w http.ResponseWriter, r *http.Request) {
	id := domain.EventID(chi.URLParam(r, "eventId"))
	var body RespondToEventRequest
	if !decodeBody(w, r, &body) {
		return
	}
	resp := domain.EventResponse(strings.ToUpper(strings.TrimSpace(body.Response)))
	if err := s.Club.RespondToEvent(r.Context(), id, resp); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.writeEventDetail(w, r, id)
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Club.User(r.Context(), domain.UserID(chi.URLParam(r, "userId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userFromDomain(u)})
}

// GetUserAvatar serves the cached avatar image, fetching it on first use.
// ?refresh=true forces a download.
func (s *Server) GetUserAvatar(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	img, err := s.Club.UserAvatar(r.Context(), domain.UserID(chi.URLParam(r, "userId")), refresh)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if len(img) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// SendMessage posts a message. With an Idempotency-Key header a retried
// request with the same body replays the first response; the same key with
// a different body is rejected.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body SendMessageRequest
	if !decodeBody(w, r, &body) {
		return
	}
	body.DivisionId = strings.TrimSpace(body.DivisionId)
	if body.DivisionId == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid divisionId", map[string]any{"divisionId": "must be non-empty"})
		return
	}

	key := idempotency.Key(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	var respFP idempotency.Fingerprint
	if key != "" && s.Idem != nil {
		bodyHash, err := hashBody(body)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		metaFP := idempotency.Fingerprint{
			Key:      key,
			Method:   http.MethodPost,
			Route:    "/messages",
			BodyHash: "",
		}
		if meta, ok, err := s.Idem.Get(ctx, metaFP); err != nil {
			writeAppError(w, r, err)
			return
		} else if ok {
			if string(meta.Body) != bodyHash {
				writeError(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE", "idempotency key reuse with different payload", nil)
				return
			}
		} else {
			_ = s.Idem.Put(ctx, metaFP, idempotency.Record{
				StatusCode:  0,
				ContentType: "text/plain",
				Body:        []byte(bodyHash),
				CreatedAt:   s.Clock.Now().UTC(),
			})
		}

		respFP = metaFP
		respFP.BodyHash = bodyHash
		if rec, ok, err := s.Idem.Get(ctx, respFP); err != nil {
			writeAppError(w, r, err)
			return
		} else if ok && rec.StatusCode == http.StatusCreated {
			w.Header().Set("Content-Type", rec.ContentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	m, err := s.Club.SendMessage(ctx, domain.DivisionID(body.DivisionId), body.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := SendMessageResponse{Message: messageFromDomain(m)}

	if respFP.Key != "" {
		if b, err := json.Marshal(resp); err == nil {
			_ = s.Idem.Put(ctx, respFP, idempotency.Record{
				StatusCode:  http.StatusCreated,
				ContentType: "application/json",
				Body:        b,
				CreatedAt:   s.Clock.Now().UTC(),
			})
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id := domain.MessageID(chi.URLParam(r, "messageId"))
	var body UpdateMessageRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Read != nil {
		if err := s.Club.MarkMessageRead(r.Context(), id, *body.Read); err != nil {
			writeAppError(w, r, err)
			return
		}
	}
	m, err := s.Club.Message(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": messageFromDomain(m)})
}

// Sync runs a backend sync and waits for it. Scope is all (default),
// divisions, events or messages.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body SyncRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if body.Scope == "" {
		body.Scope = "all"
	}
	out := SyncResponse{Scope: body.Scope}
	switch body.Scope {
	case "all":
		if err := s.Club.SyncAll(ctx); err != nil {
			writeAppError(w, r, err)
			return
		}
	case "divisions":
		diff, err := s.Club.SyncDivisions(ctx)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		out.AddedDivisions = idStrings(diff.Added)
		out.RemovedDivisions = idStrings(diff.Removed)
	case "events":
		res, err := s.Club.SyncEvents(ctx)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		out.Events = &ListSync{Listed: res.Listed, Synced: res.Synced, Failed: res.Failed}
	case "messages":
		res, err := s.Club.SyncMessages(ctx, true)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		out.Messages = &ListSync{Listed: res.Listed, Synced: res.Synced, Failed: res.Failed}
	default:
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid scope", map[string]any{"scope": "must be all, divisions, events or messages"})
		return
	}
	if s.Settle != nil {
		if err := s.Settle.WaitDrained(ctx); err != nil {
			// The caller went away; the sync itself completed.
			return
		}
		out.Settled = true
		s.Bus.Publish(notify.TopicSyncSettled, body.Scope)
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeBody reads a JSON body into v and answers 422 when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "malformed request body"
		if errors.Is(err, io.EOF) {
			msg = "missing request body"
		}
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", msg, nil)
		return false
	}
	return true
}

func hashBody(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
