package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/connectify-dev/meet-api/internal/data"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var oauthConfig = oauth2.Config{
	Endpoint: google.Endpoint,
	Scopes: []string{
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/userinfo.email",
	},
}

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo?access_token="

func (app *application) getLoggedInUserHandler(w http.ResponseWriter, r *http.Request) {
	u := app.getUserContext(r)
	app.writeJSON(w, http.StatusOK, envelope{"user": u}, nil)
}

func (app *application) sendOtpHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	err := app.readJSON(r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err.Error())
		return
	}

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		app.badRequestResponse(w, r, "a valid email is required")
		return
	}

	exists, err := app.models.Users.EmailExists(r.Context(), input.Email)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if exists {
		app.errorResponse(w, r, http.StatusConflict, "an account with this email already exists")
		return
	}

	otp, err := data.GenerateOtp()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.models.Otps.Upsert(r.Context(), input.Email, data.OtpPurposeRegister, otp)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.mailer.SendOtp(r.Context(), input.Email, otp)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "otp sent successfully"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) registerHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Otp       string `json:"otp"`
	}
	err := app.readJSON(r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err.Error())
		return
	}

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	switch {
	case input.FirstName == "":
		app.badRequestResponse(w, r, "firstName is required")
		return
	case input.Email == "" || !strings.Contains(input.Email, "@"):
		app.badRequestResponse(w, r, "a valid email is required")
		return
	case len(input.Password) < 8:
		app.badRequestResponse(w, r, "password must be at least 8 characters")
		return
	case input.Otp == "":
		app.badRequestResponse(w, r, "otp is required")
		return
	}

	err = app.models.Otps.Verify(r.Context(), input.Email, data.OtpPurposeRegister, input.Otp)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) || errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			app.badRequestResponse(w, r, "invalid or expired otp")
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	user := &data.User{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
	}
	err = app.models.Users.Insert(r.Context(), user, hash)
	if err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			app.errorResponse(w, r, http.StatusConflict, "an account with this email already exists")
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	app.writeSessionResponse(w, r, http.StatusCreated, user)
}

func (app *application) loginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	err := app.readJSON(r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err.Error())
		return
	}

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	user, hash, err := app.models.Users.GetByEmail(r.Context(), input.Email)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			app.badRequestResponse(w, r, "invalid email or password")
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	err = bcrypt.CompareHashAndPassword(hash, []byte(input.Password))
	if err != nil {
		app.badRequestResponse(w, r, "invalid email or password")
		return
	}

	if user.Status != data.UserStatusActive {
		app.unauthorizedResponse(w, r)
		return
	}

	app.writeSessionResponse(w, r, http.StatusOK, user)
}

// writeSessionResponse opens a session for the user and hands back the JWT
// the client presents on every request and at the socket handshake.
func (app *application) writeSessionResponse(w http.ResponseWriter, r *http.Request, status int, user *data.User) {
	session, err := app.models.Sessions.Insert(r.Context(), user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	token, err := app.newSessionToken(session.ID, session.ExpiryTime)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, status, envelope{"token": token, "user": user}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) logoutHandler(w http.ResponseWriter, r *http.Request) {
	err := app.models.Sessions.Delete(r.Context(), app.getSessionContext(r))
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "logged out successfully"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) getRedirectURLHandler(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	oauthState := base64.StdEncoding.EncodeToString(b)
	cookie := &http.Cookie{
		Name:     "oauthState",
		Value:    oauthState,
		Secure:   true,
		HttpOnly: true,
		Expires:  time.Now().Add(5 * time.Minute),
		Path:     "/",
	}
	http.SetCookie(w, cookie)

	oauthConfig.ClientID = app.config.google.clientID
	oauthConfig.ClientSecret = app.config.google.clientSecret
	oauthConfig.RedirectURL = app.config.google.redirectURL
	redirectURL := oauthConfig.AuthCodeURL(oauthState)

	err = app.writeJSON(w, http.StatusOK, envelope{"redirectURL": redirectURL}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) callbackHandler(w http.ResponseWriter, r *http.Request) {
	state, code := r.FormValue("state"), r.FormValue("code")
	cookie, err := r.Cookie("oauthState")
	if err != nil {
		switch {
		case errors.Is(err, http.ErrNoCookie):
			app.badRequestResponse(w, r, "missing required cookie: oauthState")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	if cookie.Value != state {
		app.badRequestResponse(w, r, "invalid cookie found: oauthState")
		return
	}

	token, err := oauthConfig.Exchange(context.Background(), code)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	res, err := http.Get(userInfoURL + token.AccessToken)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		app.serverErrorResponse(w, r, errors.New("fetching google user info failed"))
		return
	}

	var userInfo struct {
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Email      string `json:"email"`
		Picture    string `json:"picture"`
	}
	err = json.NewDecoder(res.Body).Decode(&userInfo)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	user := &data.User{
		FirstName: userInfo.GivenName,
		LastName:  userInfo.FamilyName,
		Email:     strings.ToLower(userInfo.Email),
		Avatar:    userInfo.Picture,
	}
	err = app.models.Users.Upsert(r.Context(), user)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	if user.Status != data.UserStatusActive {
		app.unauthorizedResponse(w, r)
		return
	}

	session, err := app.models.Sessions.Insert(r.Context(), user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	jwt, err := app.newSessionToken(session.ID, session.ExpiryTime)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	redirect := app.config.webURL + "/auth/callback?token=" + url.QueryEscape(jwt)
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}
