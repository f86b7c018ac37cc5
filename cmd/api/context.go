package main

import (
	"context"
	"net/http"

	"github.com/connectify-dev/meet-api/internal/data"
)

type contextKey string

const (
	userContextKey        = contextKey("user")
	sessionContextKey     = contextKey("sessionID")
	roomSessionContextKey = contextKey("roomSession")
)

func (app *application) setUserContext(r *http.Request, u *data.User, sessionID string) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, u)
	ctx = context.WithValue(ctx, sessionContextKey, sessionID)
	return r.WithContext(ctx)
}

func (app *application) getUserContext(r *http.Request) *data.User {
	u, ok := r.Context().Value(userContextKey).(*data.User)
	if !ok {
		panic("missing required user context")
	}
	return u
}

func (app *application) getSessionContext(r *http.Request) string {
	id, ok := r.Context().Value(sessionContextKey).(string)
	if !ok {
		panic("missing required session context")
	}
	return id
}

func (app *application) setRoomSessionContext(r *http.Request, rs *data.RoomSession) *http.Request {
	ctx := context.WithValue(r.Context(), roomSessionContextKey, rs)
	return r.WithContext(ctx)
}

func (app *application) getRoomSessionContext(r *http.Request) *data.RoomSession {
	rs, ok := r.Context().Value(roomSessionContextKey).(*data.RoomSession)
	if !ok {
		panic("missing required room session context")
	}
	return rs
}
