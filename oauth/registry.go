package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

var (
	// ErrUnknownProvider is returned for a provider name that was never registered.
	ErrUnknownProvider = errors.New("oauth: unknown or unconfigured provider")
	// ErrExchange is returned when the authorization code could not be redeemed.
	ErrExchange = errors.New("oauth: code exchange failed")
	// ErrUserInfo is returned when the provider profile could not be fetched.
	ErrUserInfo = errors.New("oauth: userinfo fetch failed")
	// ErrUnverifiedEmail is returned when the provider does not vouch for the
	// account's email address.
	ErrUnverifiedEmail = errors.New("oauth: provider email is not verified")
)

// UserInfo is the provider-neutral profile returned after a successful exchange.
type UserInfo struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// Provider describes one OAuth2 identity provider.
type Provider struct {
	Config      *oauth2.Config
	UserInfoURL string
	// Decode turns the userinfo response into a profile. The client carries
	// the access token for follow-up requests.
	Decode func(ctx context.Context, client *http.Client, body []byte) (UserInfo, error)
}

// Registry holds the configured providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewRegistryFromConfig registers every provider that has both a client ID
// and a secret in cfg.
func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	r := NewRegistry()
	base := strings.TrimRight(cfg.CallbackBaseURL, "/")

	if cfg.Google.configured() {
		if err := r.Register("google", Google(cfg.Google, base+CallbackPath("google"))); err != nil {
			return nil, err
		}
	}
	if cfg.GitHub.configured() {
		if err := r.Register("github", GitHub(cfg.GitHub, base+CallbackPath("github"))); err != nil {
			return nil, err
		}
	}
	if cfg.Facebook.configured() {
		if err := r.Register("facebook", Facebook(cfg.Facebook, base+CallbackPath("facebook"))); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CallbackPath returns the route that completes a login for provider.
func CallbackPath(provider string) string {
	return "/api/auth/oauth/" + provider + "/callback"
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return errors.New("oauth: provider name is empty")
	}
	if p.Config == nil || p.UserInfoURL == "" || p.Decode == nil {
		return fmt.Errorf("oauth: provider %q is incomplete", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	return nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) provider(name string) (Provider, error) {
	if r == nil {
		return Provider{}, ErrUnknownProvider
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// AuthCodeURL returns the consent page URL for provider, bound to state.
func (r *Registry) AuthCodeURL(provider, state string) (string, error) {
	p, err := r.provider(provider)
	if err != nil {
		return "", err
	}
	return p.Config.AuthCodeURL(state), nil
}

// Exchange redeems code with provider and fetches the caller's profile.
func (r *Registry) Exchange(ctx context.Context, provider, code string) (UserInfo, error) {
	p, err := r.provider(provider)
	if err != nil {
		return UserInfo{}, err
	}

	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	client := p.Config.Client(ctx, token)
	body, err := getJSON(ctx, client, p.UserInfoURL)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	info, err := p.Decode(ctx, client, body)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	info.Provider = provider
	return info, nil
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

/*
====================================
PROVIDERS
====================================
*/

// Google returns the Google provider using the v2 userinfo endpoint.
func Google(creds Credentials, redirectURL string) Provider {
	return Provider{
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		Decode:      decodeGoogle,
	}
}

// decodeGoogle rejects profiles whose verified_email is false or absent: the
// email is used to link the login to an existing account.
func decodeGoogle(_ context.Context, _ *http.Client, body []byte) (UserInfo, error) {
	var data struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return UserInfo{}, err
	}
	if data.Email != "" && !data.VerifiedEmail {
		return UserInfo{}, ErrUnverifiedEmail
	}
	return UserInfo{Subject: data.ID, Email: data.Email, Name: data.Name, Picture: data.Picture}, nil
}

// GitHub returns the GitHub provider. Private primary emails are resolved
// through the /user/emails endpoint.
func GitHub(creds Credentials, redirectURL string) Provider {
	return Provider{
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		Decode:      decodeGitHub("https://api.github.com/user/emails"),
	}
}

func decodeGitHub(emailsURL string) func(context.Context, *http.Client, []byte) (UserInfo, error) {
	return func(ctx context.Context, client *http.Client, body []byte) (UserInfo, error) {
		var data struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Email     string `json:"email"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return UserInfo{}, err
		}

		info := UserInfo{
			Subject: strconv.FormatInt(data.ID, 10),
			Email:   data.Email,
			Name:    data.Name,
			Picture: data.AvatarURL,
		}
		if info.Name == "" {
			info.Name = data.Login
		}
		if info.Email == "" {
			info.Email = primaryGitHubEmail(ctx, client, emailsURL)
		}
		return info, nil
	}
}

func primaryGitHubEmail(ctx context.Context, client *http.Client, url string) string {
	body, err := getJSON(ctx, client, url)
	if err != nil {
		return ""
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return ""
	}
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}

// Facebook returns the Facebook provider using the Graph API profile fields.
func Facebook(creds Credentials, redirectURL string) Provider {
	return Provider{
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     facebook.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"email", "public_profile"},
		},
		UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email,picture",
		Decode:      decodeFacebook,
	}
}

func decodeFacebook(_ context.Context, _ *http.Client, body []byte) (UserInfo, error) {
	var data struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return UserInfo{}, err
	}
	return UserInfo{Subject: data.ID, Email: data.Email, Name: data.Name, Picture: data.Picture.Data.URL}, nil
}
