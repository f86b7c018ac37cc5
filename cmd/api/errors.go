package main

import (
	"fmt"
	"net/http"
)

// Reasons attached to auth failures so the client knows which credential
// died: the login session or the per-room session.
const (
	reasonSessionTerminate     = "SESSION_TERMINATE"
	reasonRoomSessionTerminate = "ROOM_SESSION_TERMINATE"
	reasonNotHost              = "NOT_HOST"
)

func (app *application) logError(r *http.Request, err error) {
	app.logger.Print(err)
}

func (app *application) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	res := envelope{
		"error": message,
	}

	err := app.writeJSON(w, status, res, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (app *application) errorResponseWithReason(w http.ResponseWriter, r *http.Request, status int, message, reason string) {
	res := envelope{
		"error":  message,
		"reason": reason,
	}

	err := app.writeJSON(w, status, res, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (app *application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)
	message := "the server encountered an error and could not process the response"
	app.errorResponse(w, r, http.StatusInternalServerError, message)
}

func (app *application) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	message := "the requested resource is not found"
	app.errorResponse(w, r, http.StatusNotFound, message)
}

func (app *application) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	message := fmt.Sprintf("the %s method is not allowed on this resource", r.Method)
	app.errorResponse(w, r, http.StatusMethodNotAllowed, message)
}

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, message string) {
	app.errorResponse(w, r, http.StatusBadRequest, message)
}

func (app *application) unauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponseWithReason(w, r, http.StatusUnauthorized, "unauthorized", reasonSessionTerminate)
}

func (app *application) roomSessionTerminateResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponseWithReason(w, r, http.StatusUnauthorized, "room session expired", reasonRoomSessionTerminate)
}

func (app *application) notHostResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponseWithReason(w, r, http.StatusForbidden, "only the host can do this", reasonNotHost)
}
