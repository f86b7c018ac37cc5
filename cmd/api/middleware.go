package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/connectify-dev/meet-api/internal/data"
)

func (app *application) logRequest(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		app.logger.Printf("method: %s, path: %s, origin: %s", r.Method, r.URL.Path, r.Header.Get("Origin"))
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// authenticate resolves a bearer token to its user: JWT -> sessions row ->
// expiry check -> active-status check. Every success slides the session
// expiry out by an hour.
func (app *application) authenticate(r *http.Request, token string) (*data.User, string, error) {
	sessionID, err := app.parseSessionToken(token)
	if err != nil {
		return nil, "", err
	}

	session, err := app.models.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		return nil, "", err
	}
	if time.Now().After(session.ExpiryTime) {
		if err := app.models.Sessions.Delete(r.Context(), session.ID); err != nil {
			app.logError(r, err)
		}
		return nil, "", data.ErrNotFound
	}

	user, err := app.models.Users.Get(r.Context(), session.UserID)
	if err != nil {
		return nil, "", err
	}
	if user.Status != data.UserStatusActive {
		return nil, "", data.ErrNotFound
	}

	if err := app.models.Sessions.Extend(r.Context(), session.ID); err != nil {
		app.logError(r, err)
	}

	return user, session.ID, nil
}

func (app *application) isAuthenticated(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			app.unauthorizedResponse(w, r)
			return
		}

		user, sessionID, err := app.authenticate(r, token)
		if err != nil {
			if !errors.Is(err, data.ErrNotFound) {
				app.logError(r, err)
			}
			app.unauthorizedResponse(w, r)
			return
		}

		r = app.setUserContext(r, user, sessionID)
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// requireRoomSession checks the X-Room-Session capability for room-scoped
// routes. A live session slides out by fifteen minutes; a dead one is
// deleted and reported with a reason the client reacts to.
func (app *application) requireRoomSession(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Room-Session")
		if id == "" {
			app.roomSessionTerminateResponse(w, r)
			return
		}

		rs, err := app.models.RoomSessions.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				app.roomSessionTerminateResponse(w, r)
			} else {
				app.serverErrorResponse(w, r, err)
			}
			return
		}

		if rs.UserID != app.getUserContext(r).ID {
			app.roomSessionTerminateResponse(w, r)
			return
		}

		if time.Now().After(rs.ExpiryTime) {
			if err := app.models.RoomSessions.Delete(r.Context(), rs.ID); err != nil {
				app.logError(r, err)
			}
			app.roomSessionTerminateResponse(w, r)
			return
		}

		if err := app.models.RoomSessions.Extend(r.Context(), rs); err != nil {
			app.logError(r, err)
		}

		r = app.setRoomSessionContext(r, rs)
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func (app *application) requireRoomHost(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		rs := app.getRoomSessionContext(r)
		if !rs.IsHost {
			app.notHostResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
