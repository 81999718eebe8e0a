package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProvider struct {
	*httptest.Server
	profile any
	emails  any
}

func newFakeProvider(t *testing.T, profile, emails any) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{profile: profile, emails: emails}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(fp.profile)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(fp.emails)
	})
	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: fp.URL + "/auth", TokenURL: fp.URL + "/token"}
}

func TestRegistryExchangeGoogle(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"id":             "g-1",
		"email":          "lin@example.com",
		"verified_email": true,
		"name":           "Lin",
		"picture":        "https://cdn.example.com/lin.png",
	}, nil)

	p := Google(Credentials{ClientID: "id", ClientSecret: "secret"}, "http://app/cb")
	p.Config.Endpoint = fp.endpoint()
	p.UserInfoURL = fp.URL + "/user"

	r := NewRegistry()
	require.NoError(t, r.Register("google", p))

	info, err := r.Exchange(context.Background(), "google", "good-code")
	require.NoError(t, err)
	assert.Equal(t, UserInfo{
		Provider: "google",
		Subject:  "g-1",
		Email:    "lin@example.com",
		Name:     "Lin",
		Picture:  "https://cdn.example.com/lin.png",
	}, info)
}

func TestRegistryExchangeGoogleUnverifiedEmail(t *testing.T) {
	tests := []struct {
		name    string
		profile map[string]any
	}{
		{"flag false", map[string]any{"id": "g-2", "email": "victim@example.com", "verified_email": false}},
		{"flag absent", map[string]any{"id": "g-3", "email": "victim@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t, tt.profile, nil)
			p := Google(Credentials{ClientID: "id", ClientSecret: "secret"}, "http://app/cb")
			p.Config.Endpoint = fp.endpoint()
			p.UserInfoURL = fp.URL + "/user"

			r := NewRegistry()
			require.NoError(t, r.Register("google", p))

			_, err := r.Exchange(context.Background(), "google", "good-code")
			assert.ErrorIs(t, err, ErrUnverifiedEmail)
			assert.ErrorIs(t, err, ErrUserInfo)
		})
	}
}

func TestRegistryExchangeGitHubPrivateEmail(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"id":         42,
		"login":      "octo",
		"email":      "",
		"avatar_url": "https://avatars.example.com/42",
	}, []map[string]any{
		{"email": "old@example.com", "primary": false, "verified": true},
		{"email": "unverified@example.com", "primary": true, "verified": false},
		{"email": "octo@example.com", "primary": true, "verified": true},
	})

	p := GitHub(Credentials{ClientID: "id", ClientSecret: "secret"}, "http://app/cb")
	p.Config.Endpoint = fp.endpoint()
	p.UserInfoURL = fp.URL + "/user"
	p.Decode = decodeGitHub(fp.URL + "/user/emails")

	r := NewRegistry()
	require.NoError(t, r.Register("github", p))

	info, err := r.Exchange(context.Background(), "github", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "42", info.Subject)
	assert.Equal(t, "octo", info.Name, "login is the fallback display name")
	assert.Equal(t, "octo@example.com", info.Email)
}

func TestRegistryExchangeFacebook(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"id":    "fb-7",
		"email": "kai@example.com",
		"name":  "Kai",
		"picture": map[string]any{
			"data": map[string]any{"url": "https://fb.example.com/kai.jpg"},
		},
	}, nil)

	p := Facebook(Credentials{ClientID: "id", ClientSecret: "secret"}, "http://app/cb")
	p.Config.Endpoint = fp.endpoint()
	p.UserInfoURL = fp.URL + "/user"

	r := NewRegistry()
	require.NoError(t, r.Register("facebook", p))

	info, err := r.Exchange(context.Background(), "facebook", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "https://fb.example.com/kai.jpg", info.Picture)
	assert.Equal(t, "kai@example.com", info.Email)
}

func TestRegistryErrors(t *testing.T) {
	fp := newFakeProvider(t, map[string]string{"id": "g-1"}, nil)
	p := Google(Credentials{ClientID: "id", ClientSecret: "secret"}, "http://app/cb")
	p.Config.Endpoint = fp.endpoint()
	p.UserInfoURL = fp.URL + "/missing"

	r := NewRegistry()
	require.NoError(t, r.Register("google", p))

	_, err := r.Exchange(context.Background(), "twitter", "good-code")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Exchange(context.Background(), "google", "bad-code")
	assert.ErrorIs(t, err, ErrExchange)

	_, err = r.Exchange(context.Background(), "google", "good-code")
	assert.ErrorIs(t, err, ErrUserInfo)

	assert.Error(t, r.Register("broken", Provider{}))
	assert.Error(t, r.Register("", p))
}

func TestRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig(Config{
		CallbackBaseURL: "https://app.example.com/",
		Google:          Credentials{ClientID: "gid", ClientSecret: "gsecret"},
		GitHub:          Credentials{ClientID: "only-id"},
		Facebook:        Credentials{ClientID: "fid", ClientSecret: "fsecret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"facebook", "google"}, r.Providers())

	raw, err := r.AuthCodeURL("google", "state-xyz")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "state-xyz", u.Query().Get("state"))
	assert.Equal(t, "gid", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/api/auth/oauth/google/callback", u.Query().Get("redirect_uri"))

	_, err = r.AuthCodeURL("github", "s")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
