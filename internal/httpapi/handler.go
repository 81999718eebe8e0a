// Package httpapi serves the authentication JSON API and the role-gated
// pages over chi.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/internal"
	"github.com/indigoroots/authcore/middleware"
	"github.com/indigoroots/authcore/oauth"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/session"
)

const maxBodyBytes = 1 << 16

const (
	msgForgotPassword = "If an account with that email exists, we have sent a password reset link."
	msgResetDone      = "Password has been reset successfully. You can now sign in with your new password."
	msgEmailVerified  = "Email verified successfully! You can now sign in."
	msgTokenValid     = "Token is valid"
	msgTokenRequired  = "Token is required"
	msgRateLimited    = "Too many requests. Please try again later."
)

// Handler serves /api/auth. Build it with [New].
type Handler struct {
	engine  *authcore.Engine
	cookies *session.CookieStore
	oauth   *oauth.Registry
	log     zerolog.Logger
	extract middleware.TokenExtractor
}

// Options wires a Handler. OAuth is optional.
type Options struct {
	Engine  *authcore.Engine
	Cookies *session.CookieStore
	OAuth   *oauth.Registry
	Logger  zerolog.Logger
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if opts.Cookies == nil {
		return nil, errors.New("httpapi: cookie store is required")
	}
	return &Handler{
		engine:  opts.Engine,
		cookies: opts.Cookies,
		oauth:   opts.OAuth,
		log:     opts.Logger,
		extract: middleware.FirstToken(middleware.CookieToken(opts.Cookies), middleware.BearerToken),
	}, nil
}

// Routes returns the /api/auth subtree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/forgot-password", h.ForgotPassword)
	r.Get("/reset-password", h.CheckResetToken)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/register", h.Register)
	r.Get("/verify-email", h.CheckVerificationToken)
	r.Post("/verify-email", h.VerifyEmail)
	r.Get("/session", h.Session)
	r.Post("/session", h.RefreshSession)
	r.Post("/signin", h.SignIn)
	r.Post("/signout", h.SignOut)
	r.Get("/oauth/{provider}", h.OAuthStart)
	r.Get("/oauth/{provider}/callback", h.OAuthCallback)

	return r
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func validationDetails(err error) []string {
	var ve *authcore.ValidationError
	if errors.As(err, &ve) {
		return ve.Details
	}
	return nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, authcore.ErrPasswordResetRateLimited) ||
		errors.Is(err, authcore.ErrLoginRateLimited) ||
		errors.Is(err, authcore.ErrRegistrationRateLimited) ||
		errors.Is(err, authcore.ErrEmailVerificationRateLimited)
}

// dependencyFailure answers with 429 for throttles and 500 otherwise.
func (h *Handler) dependencyFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if isRateLimited(err) {
		fail(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}
	h.log.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
	internalError(w)
}

/*
====================================
PASSWORD RESET
====================================
*/

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := authcore.ValidateRequest(req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid email address", validationDetails(err)...)
		return
	}

	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.dependencyFailure(w, r, "request password reset", err)
		return
	}
	ok(w, response{Message: msgForgotPassword})
}

func (h *Handler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		fail(w, http.StatusBadRequest, msgTokenRequired)
		return
	}

	check, err := h.engine.ValidateResetToken(r.Context(), token)
	if err != nil {
		h.dependencyFailure(w, r, "validate reset token", err)
		return
	}
	if !check.Valid {
		fail(w, http.StatusBadRequest, check.Error)
		return
	}
	ok(w, response{Message: msgTokenValid, User: &userBody{Email: authcore.MaskEmail(check.Email)}})
}

type resetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed")
		return
	}
	if err := authcore.ValidateRequest(req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed", validationDetails(err)...)
		return
	}

	res, err := h.engine.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		h.dependencyFailure(w, r, "reset password", err)
		return
	}
	if !res.Success {
		fail(w, http.StatusBadRequest, res.Error, res.Details...)
		return
	}
	ok(w, response{Message: msgResetDone})
}

/*
====================================
REGISTRATION AND VERIFICATION
====================================
*/

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed")
		return
	}

	res, err := h.engine.Register(r.Context(), req)
	if err != nil {
		var ve *authcore.ValidationError
		switch {
		case errors.As(err, &ve):
			fail(w, http.StatusBadRequest, ve.Message, ve.Details...)
		case errors.Is(err, authcore.ErrAccountExists):
			fail(w, http.StatusBadRequest, "An account with this email already exists")
		default:
			h.dependencyFailure(w, r, "register", err)
		}
		return
	}
	ok(w, response{
		Message: res.Message,
		User: &userBody{
			ID:    res.User.ID,
			Email: res.User.Email,
			Name:  res.User.Name,
			Role:  string(h.engine.Config().Registration.DefaultRole),
		},
	})
}

func (h *Handler) CheckVerificationToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		fail(w, http.StatusBadRequest, msgTokenRequired)
		return
	}

	check, err := h.engine.CheckVerificationToken(r.Context(), token)
	if err != nil {
		h.dependencyFailure(w, r, "check verification token", err)
		return
	}
	if !check.Valid {
		fail(w, http.StatusBadRequest, check.Error)
		return
	}
	ok(w, response{Message: msgTokenValid, Email: check.Email})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := authcore.ValidateRequest(req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request", validationDetails(err)...)
		return
	}

	res, err := h.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.dependencyFailure(w, r, "verify email", err)
		return
	}
	if !res.Success {
		fail(w, http.StatusBadRequest, res.Error)
		return
	}
	ok(w, response{Message: msgEmailVerified})
}

/*
====================================
SESSIONS
====================================
*/

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Session(r.Context(), h.extract(r))
	if err != nil {
		fail(w, http.StatusUnauthorized, "No active session")
		return
	}
	ok(w, response{Session: newSessionBody(info)})
}

func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.RefreshSession(r.Context(), h.extract(r))
	switch {
	case errors.Is(err, authcore.ErrSessionExpired):
		fail(w, http.StatusUnauthorized, "Session has expired")
		return
	case err != nil:
		fail(w, http.StatusUnauthorized, "No active session to refresh")
		return
	}
	ok(w, response{Message: "Session is valid", Session: newSessionBody(info)})
}

type signInRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := authcore.ValidateRequest(req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed", validationDetails(err)...)
		return
	}

	issued, err := h.engine.LoginWithPassword(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			fail(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.dependencyFailure(w, r, "sign in", err)
		return
	}
	if err := h.cookies.SetToken(w, r, issued.Token, issued.RememberMe); err != nil {
		h.dependencyFailure(w, r, "set session cookie", err)
		return
	}
	ok(w, response{Message: "Signed in", User: issuedUser(issued)})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.cookies.Clear(w, r); err != nil {
		h.dependencyFailure(w, r, "clear session cookie", err)
		return
	}
	ok(w, response{Message: "Signed out"})
}

func issuedUser(s authcore.IssuedSession) *userBody {
	return &userBody{
		ID:    s.User.ID,
		Email: s.User.Email,
		Name:  s.User.Name,
		Role:  string(s.User.Role),
		Image: s.User.Image,
	}
}

/*
====================================
OAUTH
====================================
*/

const oauthStateBytes = 16

func signInError(code string) string {
	return permission.SignInPath + "?error=" + url.QueryEscape(code)
}

func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := internal.NewToken(oauthStateBytes)
	if err != nil {
		h.dependencyFailure(w, r, "oauth state", err)
		return
	}
	authURL, err := h.oauth.AuthCodeURL(provider, state)
	if err != nil {
		fail(w, http.StatusNotFound, "Unknown OAuth provider")
		return
	}
	if err := h.cookies.SetOAuthState(w, r, state); err != nil {
		h.dependencyFailure(w, r, "store oauth state", err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	if err := h.cookies.CheckOAuthState(w, r, q.Get("state")); err != nil {
		http.Redirect(w, r, signInError("OAuthState"), http.StatusFound)
		return
	}
	if q.Get("error") != "" || q.Get("code") == "" {
		http.Redirect(w, r, signInError("OAuthCallback"), http.StatusFound)
		return
	}

	info, err := h.oauth.Exchange(r.Context(), provider, q.Get("code"))
	if err != nil {
		h.log.Warn().Err(err).Str("provider", provider).Msg("oauth exchange failed")
		http.Redirect(w, r, signInError("OAuthCallback"), http.StatusFound)
		return
	}

	issued, err := h.engine.LoginWithOAuth(r.Context(), authcore.OAuthIdentity{
		Provider: info.Provider,
		Subject:  info.Subject,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, true)
	if err != nil {
		if !errors.Is(err, authcore.ErrInvalidCredentials) {
			h.log.Error().Err(err).Str("provider", provider).Msg("oauth login failed")
		}
		http.Redirect(w, r, signInError("OAuthSignin"), http.StatusFound)
		return
	}
	if err := h.cookies.SetToken(w, r, issued.Token, issued.RememberMe); err != nil {
		h.dependencyFailure(w, r, "set session cookie", err)
		return
	}
	http.Redirect(w, r, permission.LandingPath(issued.User.Role), http.StatusFound)
}
