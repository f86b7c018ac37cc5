package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/justinas/alice"
	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	router := httprouter.New()

	router.NotFound = http.HandlerFunc(app.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(app.methodNotAllowedResponse)

	authMw := alice.New(app.isAuthenticated)
	roomMw := authMw.Append(app.requireRoomSession)
	hostMw := roomMw.Append(app.requireRoomHost)

	// authentication
	router.HandlerFunc(http.MethodPost, "/v1/auth/otp", app.sendOtpHandler)
	router.HandlerFunc(http.MethodPost, "/v1/auth/register", app.registerHandler)
	router.HandlerFunc(http.MethodPost, "/v1/auth/login", app.loginHandler)
	router.HandlerFunc(http.MethodGet, "/v1/auth/redirectURL", app.getRedirectURLHandler)
	router.HandlerFunc(http.MethodGet, "/v1/auth/callback", app.callbackHandler)
	router.Handler(http.MethodDelete, "/v1/auth/logout", authMw.Then(http.HandlerFunc(app.logoutHandler)))

	// logged in user
	router.Handler(http.MethodGet, "/v1/me", authMw.Then(http.HandlerFunc(app.getLoggedInUserHandler)))

	// rooms
	router.Handler(http.MethodPost, "/v1/rooms", authMw.Then(http.HandlerFunc(app.createRoomHandler)))
	router.Handler(http.MethodGet, "/v1/rooms/:token", authMw.Then(http.HandlerFunc(app.getRoomHandler)))
	router.Handler(http.MethodPost, "/v1/rooms/:token/join", authMw.Then(http.HandlerFunc(app.joinRoomHandler)))
	router.Handler(http.MethodPost, "/v1/rooms/:token/auto-leave", http.HandlerFunc(app.autoLeaveHandler))

	// room session scoped
	router.Handler(http.MethodGet, "/v1/rooms/:token/session", roomMw.Then(http.HandlerFunc(app.getRoomSessionHandler)))
	router.Handler(http.MethodGet, "/v1/rooms/:token/participants", roomMw.Then(http.HandlerFunc(app.listParticipantsHandler)))
	router.Handler(http.MethodPut, "/v1/rooms/:token/controls", roomMw.Then(http.HandlerFunc(app.updateControlsHandler)))
	router.Handler(http.MethodPost, "/v1/rooms/:token/leave", roomMw.Then(http.HandlerFunc(app.leaveRoomHandler)))

	// host only
	router.Handler(http.MethodGet, "/v1/rooms/:token/join-requests", hostMw.Then(http.HandlerFunc(app.listJoinRequestsHandler)))
	router.Handler(http.MethodPost, "/v1/rooms/:token/join-requests/:requestID/accept", hostMw.Then(http.HandlerFunc(app.acceptJoinRequestHandler)))
	router.Handler(http.MethodDelete, "/v1/rooms/:token/join-requests/:requestID", hostMw.Then(http.HandlerFunc(app.rejectJoinRequestHandler)))

	// websocket, authenticated in-band from the token query parameter
	router.HandlerFunc(http.MethodGet, "/ws", app.wsHandler)

	c := cors.New(cors.Options{
		AllowedOrigins:   app.config.cors.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Room-Session"},
		AllowCredentials: true,
	})

	return alice.New(app.logRequest, c.Handler).Then(router)
}
