package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/indigoroots/authcore"
)

// response is the envelope of every JSON answer.
type response struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Message string       `json:"message,omitempty"`
	Details []string     `json:"details,omitempty"`
	Email   string       `json:"email,omitempty"`
	User    *userBody    `json:"user,omitempty"`
	Session *sessionBody `json:"session,omitempty"`
}

type userBody struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Image string `json:"image,omitempty"`
}

type expiryBody struct {
	ExpiresAt       time.Time `json:"expiresAt"`
	TimeUntilExpiry int64     `json:"timeUntilExpiry"`
	IsExpired       bool      `json:"isExpired"`
	IsExpiringSoon  bool      `json:"isExpiringSoon"`
	IsRememberMe    bool      `json:"isRememberMe"`
}

// sessionBody mirrors SessionInfo. Durations are milliseconds.
type sessionBody struct {
	User                     userBody   `json:"user"`
	Expires                  time.Time  `json:"expires"`
	IsExpired                bool       `json:"isExpired"`
	TimeUntilExpiry          int64      `json:"timeUntilExpiry"`
	TimeUntilExpiryFormatted string     `json:"timeUntilExpiryFormatted"`
	IsRememberMe             bool       `json:"isRememberMe"`
	ExpiryInfo               expiryBody `json:"expiryInfo"`
}

func newSessionBody(info *authcore.SessionInfo) *sessionBody {
	exp := info.ExpiryInfo()
	return &sessionBody{
		User: userBody{
			ID:    info.User.ID,
			Email: info.User.Email,
			Name:  info.User.Name,
			Role:  string(info.User.Role),
			Image: info.User.Image,
		},
		Expires:                  info.ExpiresAt,
		IsExpired:                info.IsExpired,
		TimeUntilExpiry:          info.TimeUntilExpiry.Milliseconds(),
		TimeUntilExpiryFormatted: info.FormattedTimeUntilExpiry(),
		IsRememberMe:             info.IsRememberMe,
		ExpiryInfo: expiryBody{
			ExpiresAt:       exp.ExpiresAt,
			TimeUntilExpiry: exp.TimeUntilExpiry.Milliseconds(),
			IsExpired:       exp.IsExpired,
			IsExpiringSoon:  exp.IsExpiringSoon,
			IsRememberMe:    exp.IsRememberMe,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, body response) {
	body.Success = true
	writeJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, status int, message string, details ...string) {
	writeJSON(w, status, response{Error: message, Details: details})
}

func internalError(w http.ResponseWriter) {
	fail(w, http.StatusInternalServerError, "Internal server error")
}
