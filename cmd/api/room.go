package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/connectify-dev/meet-api/internal/data"
	"github.com/julienschmidt/httprouter"
)

func (app *application) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	u := app.getUserContext(r)

	room, err := app.models.Rooms.Insert(r.Context(), u.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"room": room}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := app.roomFromParams(r)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"room": room}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// joinRoomHandler is where hosts enter and guests knock. The host claim is
// never taken from the request: it is derived by comparing the caller to
// the room's host_id. Hosts get a participant row and a room session right
// away; guests get a pending join request and wait for the host's verdict.
func (app *application) joinRoomHandler(w http.ResponseWriter, r *http.Request) {
	u := app.getUserContext(r)

	room, err := app.roomFromParams(r)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	// A caller holding a live room session re-enters with it instead of
	// knocking again.
	if rs, err := app.models.RoomSessions.GetActiveForUser(r.Context(), room.Token, u.ID); err == nil {
		app.writeRoomSessionResponse(w, r, http.StatusOK, rs)
		return
	} else if !errors.Is(err, data.ErrNotFound) {
		app.serverErrorResponse(w, r, err)
		return
	}

	if room.HostID == u.ID {
		rs, _, err := app.admit(r, room, u.ID, true, nil)
		if err != nil {
			app.serverErrorResponse(w, r, err)
			return
		}
		app.writeRoomSessionResponse(w, r, http.StatusOK, rs)
		return
	}

	jr, err := app.models.JoinRequests.Create(r.Context(), room.ID, u.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	if jr != nil {
		app.hub.Broadcast(hostScope(room.Token), "join-request", envelope{
			"id":     jr.ID,
			"userId": u.ID,
			"name":   u.Name(),
		}, nil)
	}

	err = app.writeJSON(w, http.StatusAccepted, envelope{"status": "PENDING"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// admit creates the participant row and a fresh room session for a user
// entering the room.
func (app *application) admit(r *http.Request, room *data.Room, userID string, isHost bool, joinRequestID *string) (*data.RoomSession, *data.Participant, error) {
	p := &data.Participant{
		RoomID:        room.ID,
		UserID:        userID,
		IsHost:        isHost,
		JoinRequestID: joinRequestID,
	}
	err := app.models.Participants.Insert(r.Context(), p)
	if err != nil {
		return nil, nil, err
	}

	rs := &data.RoomSession{
		RoomID:        room.ID,
		RoomToken:     room.Token,
		UserID:        userID,
		ParticipantID: p.ID,
		IsHost:        isHost,
	}
	err = app.models.RoomSessions.Insert(r.Context(), rs)
	if err != nil {
		return nil, nil, err
	}
	return rs, p, nil
}

func (app *application) writeRoomSessionResponse(w http.ResponseWriter, r *http.Request, status int, rs *data.RoomSession) {
	err := app.writeJSON(w, status, envelope{"roomSession": rs}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// acceptJoinRequestHandler resolves a pending knock. The update is a
// compare-and-set on is_joined, so two hosts racing on the same request
// admit the guest exactly once; the loser's accept is a silent no-op.
func (app *application) acceptJoinRequestHandler(w http.ResponseWriter, r *http.Request) {
	rs := app.getRoomSessionContext(r)
	id := httprouter.ParamsFromContext(r.Context()).ByName("requestID")

	jr, err := app.models.JoinRequests.Resolve(r.Context(), id, rs.RoomID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.writeJSON(w, http.StatusOK, envelope{"message": "join request already resolved"}, nil)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	room, err := app.models.Rooms.GetByToken(r.Context(), rs.RoomToken)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	guestSession, participant, err := app.admit(r, room, jr.UserID, false, &jr.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	// The guest learns the verdict on its user scope, wherever it is
	// connected; the room learns about the new participant.
	app.hub.SendToUser(jr.UserID, "invite-accepted", envelope{
		"roomToken":   room.Token,
		"roomSession": guestSession,
	})
	app.hub.Broadcast(room.Token, "admit-participant", envelope{"participant": participant}, nil)

	err = app.writeJSON(w, http.StatusOK, envelope{"joinRequest": jr}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) rejectJoinRequestHandler(w http.ResponseWriter, r *http.Request) {
	rs := app.getRoomSessionContext(r)
	id := httprouter.ParamsFromContext(r.Context()).ByName("requestID")

	jr, err := app.models.JoinRequests.Delete(r.Context(), id, rs.RoomID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	app.hub.SendToUser(jr.UserID, "invite-rejected", envelope{"roomToken": rs.RoomToken})

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "join request rejected"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) listJoinRequestsHandler(w http.ResponseWriter, r *http.Request) {
	rs := app.getRoomSessionContext(r)
	skip, limit := app.readPagination(r)

	requests, err := app.models.JoinRequests.ListPending(r.Context(), rs.RoomID, skip, limit)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"joinRequests": requests}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) listParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	rs := app.getRoomSessionContext(r)
	skip, limit := app.readPagination(r)

	participants, err := app.models.Participants.ListActive(r.Context(), rs.RoomID, skip, limit)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"participants": participants}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// getRoomSessionHandler echoes the caller's session back; the middleware
// already slid its expiry, so clients use this as a cheap keep-alive.
func (app *application) getRoomSessionHandler(w http.ResponseWriter, r *http.Request) {
	app.writeRoomSessionResponse(w, r, http.StatusOK, app.getRoomSessionContext(r))
}

func (app *application) updateControlsHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Mic    bool `json:"mic"`
		Camera bool `json:"camera"`
	}
	err := app.readJSON(r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err.Error())
		return
	}

	rs := app.getRoomSessionContext(r)
	err = app.models.Participants.SetControls(r.Context(), rs.ParticipantID, input.Mic, input.Camera)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	app.hub.Broadcast(rs.RoomToken, "control-change", envelope{
		"participantId": rs.ParticipantID,
		"mic":           input.Mic,
		"camera":        input.Camera,
	}, nil)

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "controls updated"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// leaveRoomHandler is the explicit exit: the attendance row is closed and
// the room told. Media cleanup is left to the socket disconnect, which is
// the one signal that always fires.
func (app *application) leaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	rs := app.getRoomSessionContext(r)
	app.leave(r, rs)

	err := app.writeJSON(w, http.StatusOK, envelope{"message": "left the room"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// autoLeaveHandler serves the page-unload beacon. Beacons cannot set
// headers, so both credentials ride in the body: the login JWT and the
// room-session id are each re-validated before the leave runs.
func (app *application) autoLeaveHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		SessionToken  string `json:"sessionToken"`
		RoomSessionID string `json:"roomSessionId"`
	}
	err := app.readJSON(r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err.Error())
		return
	}

	user, _, err := app.authenticate(r, input.SessionToken)
	if err != nil {
		app.unauthorizedResponse(w, r)
		return
	}

	rs, err := app.models.RoomSessions.Get(r.Context(), input.RoomSessionID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.roomSessionTerminateResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	token := httprouter.ParamsFromContext(r.Context()).ByName("token")
	if rs.UserID != user.ID || rs.RoomToken != token || time.Now().After(rs.ExpiryTime) {
		app.roomSessionTerminateResponse(w, r)
		return
	}

	app.leave(r, rs)
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) leave(r *http.Request, rs *data.RoomSession) {
	if err := app.models.Participants.MarkLeft(r.Context(), rs.ParticipantID); err != nil {
		app.logError(r, err)
	}
	if err := app.models.RoomSessions.Delete(r.Context(), rs.ID); err != nil {
		app.logError(r, err)
	}

	app.hub.Broadcast(rs.RoomToken, "participant-leave", envelope{
		"participantId": rs.ParticipantID,
		"userId":        rs.UserID,
	}, nil)
}

func (app *application) roomFromParams(r *http.Request) (*data.Room, error) {
	token := httprouter.ParamsFromContext(r.Context()).ByName("token")
	return app.models.Rooms.GetByToken(r.Context(), token)
}
