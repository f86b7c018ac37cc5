package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/connectify-dev/meet-api/internal/data"
)

// stubRoomSessionStore scripts store behavior for guard and socket tests.
// Get hands out copies so mutations only reach the caller through Extend,
// the way a real row read would behave.
type stubRoomSessionStore struct {
	session   *data.RoomSession
	activeErr error
	slideTo   time.Time
	deleted   []string
}

func (s *stubRoomSessionStore) Insert(ctx context.Context, rs *data.RoomSession) error {
	return nil
}

func (s *stubRoomSessionStore) Get(ctx context.Context, id string) (*data.RoomSession, error) {
	if s.session == nil || s.session.ID != id {
		return nil, data.ErrNotFound
	}
	rs := *s.session
	return &rs, nil
}

func (s *stubRoomSessionStore) GetActiveForUser(ctx context.Context, roomToken, userID string) (*data.RoomSession, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	if s.session == nil || s.session.RoomToken != roomToken || s.session.UserID != userID {
		return nil, data.ErrNotFound
	}
	rs := *s.session
	return &rs, nil
}

func (s *stubRoomSessionStore) Extend(ctx context.Context, rs *data.RoomSession) error {
	rs.ExpiryTime = s.slideTo
	return nil
}

func (s *stubRoomSessionStore) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func newRoomSessionApp(stub *stubRoomSessionStore) *application {
	app := newTestApp()
	app.models = &data.Models{RoomSessions: stub}
	return app
}

func roomSessionRequest(app *application, sessionID, userID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/rooms/room/session", nil)
	r.Header.Set("X-Room-Session", sessionID)
	return app.setUserContext(r, &data.User{ID: userID}, "sess-1")
}

// The guard slides the row's expiry before attaching the session to the
// request, so downstream handlers (the session echo in particular) must see
// the slid value, not the one the lookup read.
func TestRoomSessionGuardAttachesSlidExpiry(t *testing.T) {
	slid := time.Now().Add(data.RoomSessionRenewal)
	stub := &stubRoomSessionStore{
		session: &data.RoomSession{ID: "rs-1", UserID: "u-1", ExpiryTime: time.Now().Add(time.Minute)},
		slideTo: slid,
	}
	app := newRoomSessionApp(stub)

	var got time.Time
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = app.getRoomSessionContext(r).ExpiryTime
	})

	w := httptest.NewRecorder()
	app.requireRoomSession(next).ServeHTTP(w, roomSessionRequest(app, "rs-1", "u-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected the guard to pass, got %d: %s", w.Code, w.Body)
	}
	if !got.Equal(slid) {
		t.Errorf("context session carries the pre-slide expiry %v, want %v", got, slid)
	}
}

func TestRoomSessionGuardDeletesExpiredSession(t *testing.T) {
	stub := &stubRoomSessionStore{
		session: &data.RoomSession{ID: "rs-1", UserID: "u-1", ExpiryTime: time.Now().Add(-time.Minute)},
	}
	app := newRoomSessionApp(stub)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard let an expired session through")
	})

	w := httptest.NewRecorder()
	app.requireRoomSession(next).ServeHTTP(w, roomSessionRequest(app, "rs-1", "u-1"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("malformed body %q: %v", w.Body, err)
	}
	if body.Reason != reasonRoomSessionTerminate {
		t.Errorf("expected reason %q, got %q", reasonRoomSessionTerminate, body.Reason)
	}
	if len(stub.deleted) != 1 || stub.deleted[0] != "rs-1" {
		t.Errorf("expired session not deleted: %v", stub.deleted)
	}
}

func TestRoomSessionGuardRejectsAnotherUsersSession(t *testing.T) {
	stub := &stubRoomSessionStore{
		session: &data.RoomSession{ID: "rs-1", UserID: "u-1", ExpiryTime: time.Now().Add(time.Minute)},
	}
	app := newRoomSessionApp(stub)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard accepted a stolen session token")
	})

	w := httptest.NewRecorder()
	app.requireRoomSession(next).ServeHTTP(w, roomSessionRequest(app, "rs-1", "u-2"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
