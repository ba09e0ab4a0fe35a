package telehealth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"golang.org/x/net/websocket"
)

var callersByToken = map[string]identity.Caller{
	"clin":     clinician,
	"pat":      patient,
	"admin":    admin,
	"stranger": stranger,
}

// fakeAuth stands in for the JWT middleware: the bearer value names a caller.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if caller, ok := callersByToken[token]; ok {
			r = r.WithContext(identity.WithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(fakeAuth)
	r.Post("/sessions", h.Create)
	r.Get("/sessions/{id}", h.Get)
	r.Get("/sessions/{id}/events", h.Watch)
	r.Post("/sessions/{id}/join", h.Join)
	r.Post("/sessions/{id}/activate", h.Activate)
	r.Post("/sessions/{id}/end", h.End)
	r.Post("/sessions/{id}/cancel", h.Cancel)
	r.Post("/sessions/{id}/consent", h.Consent)
	return r
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Retriable bool   `json:"retriable"`
	} `json:"error"`
}

func do(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestHandlerCreateReturns201ThenExisting(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodPost, "/sessions", "clin", `{"appointment_id":"appt-1","ai_summary_enabled":true,"consent":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, PartyDoctor, created.Party)
	assert.Equal(t, []Party{PartyPatient}, created.ConsentMissing)

	rec = do(t, router, http.MethodPost, "/sessions", "clin", `{"appointment_id":"appt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var existing SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&existing))
	assert.Equal(t, created.ID, existing.ID)
}

func TestHandlerErrorTaxonomy(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{AISummaryEnabled: true})
	router := newTestRouter(NewHandler(f.manager, nil))

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"no identity", http.MethodGet, "/sessions/" + s.ID, "", "", http.StatusUnauthorized, "unauthenticated"},
		{"stranger on real session", http.MethodGet, "/sessions/" + s.ID, "stranger", "", http.StatusNotFound, "not_found"},
		{"stranger on missing session", http.MethodGet, "/sessions/nope", "stranger", "", http.StatusNotFound, "not_found"},
		{"patient ends", http.MethodPost, "/sessions/" + s.ID + "/end", "pat", "", http.StatusForbidden, "forbidden"},
		{"patient joins without consent", http.MethodPost, "/sessions/" + s.ID + "/join", "pat", "", http.StatusPreconditionFailed, "consent_missing"},
		{"patient creates", http.MethodPost, "/sessions", "pat", `{"appointment_id":"appt-1"}`, http.StatusForbidden, "forbidden"},
		{"missing appointment id", http.MethodPost, "/sessions", "clin", `{}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestHandlerCancelThenEndIsInvalidState(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{})
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodPost, "/sessions/"+s.ID+"/cancel", "pat", `{"reason":"technical issue"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, StateCancelled, view.State)
	assert.Equal(t, PartyPatient, view.CancelledBy)

	rec = do(t, router, http.MethodPost, "/sessions/"+s.ID+"/end", "clin", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", errorCode(t, rec))
}

func TestHandlerCancelWithoutBody(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{})
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodPost, "/sessions/"+s.ID+"/cancel", "clin", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandlerConsentIgnoresClientRole(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{AISummaryEnabled: true})
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodPost, "/sessions/"+s.ID+"/consent", "pat", `{"role":"doctor"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, stored.ConsentPatient)
	assert.False(t, stored.ConsentDoctor)
}

func TestHandlerPatientViewHidesClinicalFields(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{AISummaryPrompt: "focus on dosage", Notes: "pre-visit note"})
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodGet, "/sessions/"+s.ID, "pat", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "focus on dosage")
	assert.NotContains(t, body, "pre-visit note")

	rec = do(t, router, http.MethodGet, "/sessions/"+s.ID, "clin", "")
	assert.Contains(t, rec.Body.String(), "focus on dosage")
}

func TestWatchPushesCancellation(t *testing.T) {
	f := newFixture(t)
	bus := events.NewMemoryBus()
	f.manager.WithPublisher(bus)
	s := f.create(t, CreateRequest{})

	srv := httptest.NewServer(newTestRouter(NewHandler(f.manager, nil).WithWatch(bus, time.Hour)))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID + "/events?token=clin"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot events.SessionEvent
	require.NoError(t, websocket.JSON.Receive(conn, &snapshot))
	assert.Equal(t, events.TypeSessionSnapshot, snapshot.Type)
	assert.Equal(t, "pending", snapshot.State)

	require.Eventually(t, func() bool { return bus.SubscriberCount(s.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err = f.manager.Cancel(context.Background(), patient, s.ID, "running late")
	require.NoError(t, err)

	var pushed events.SessionEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &pushed))
	assert.Equal(t, events.TypeSessionCancelled, pushed.Type)
	assert.True(t, pushed.Terminal())
}

func TestWatchFallsBackToPolling(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{})

	srv := httptest.NewServer(newTestRouter(NewHandler(f.manager, nil).WithWatch(nil, 20*time.Millisecond)))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID + "/events?token=pat"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot events.SessionEvent
	require.NoError(t, websocket.JSON.Receive(conn, &snapshot))

	_, err = f.manager.End(context.Background(), clinician, s.ID)
	require.NoError(t, err)

	var polled events.SessionEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &polled))
	assert.Equal(t, events.TypeSessionSnapshot, polled.Type)
	assert.Equal(t, "ended", polled.State)
}

func TestWatchRejectsNonParty(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{})
	router := newTestRouter(NewHandler(f.manager, nil))

	rec := do(t, router, http.MethodGet, "/sessions/"+s.ID+"/events", "stranger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
