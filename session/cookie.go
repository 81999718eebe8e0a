package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/indigoroots/authcore/internal"
)

const (
	tokenKey = "token"
	stateKey = "state"

	// OAuthStateTTL bounds how long an OAuth redirect may take to complete.
	OAuthStateTTL = 5 * time.Minute
)

// ErrStateMismatch is returned when the OAuth callback state does not match
// the one stored before the redirect.
var ErrStateMismatch = errors.New("session: oauth state mismatch")

// Options configures a [CookieStore].
type Options struct {
	// Name is the session cookie name. The OAuth state cookie uses Name+"_oauth".
	Name string
	// HashKey authenticates cookie values. It must be 32 or 64 bytes.
	HashKey []byte
	// BlockKey optionally encrypts cookie values (16, 24, or 32 bytes).
	BlockKey []byte
	// MaxAge is the lifetime of a remembered session cookie.
	MaxAge time.Duration
	Path   string
	Domain string
	Secure bool
}

// CookieStore reads and writes session tokens in signed cookies.
type CookieStore struct {
	store  *sessions.CookieStore
	name   string
	maxAge int
}

// NewCookieStore validates opts and returns a store.
func NewCookieStore(opts Options) (*CookieStore, error) {
	if opts.Name == "" {
		return nil, errors.New("session: cookie name is empty")
	}
	if n := len(opts.HashKey); n != 32 && n != 64 {
		return nil, errors.New("session: hash key must be 32 or 64 bytes")
	}
	if n := len(opts.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, errors.New("session: block key must be 16, 24, or 32 bytes")
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("session: max age must be > 0")
	}
	if opts.Path == "" {
		opts.Path = "/"
	}

	var keys [][]byte
	if len(opts.BlockKey) > 0 {
		keys = [][]byte{opts.HashKey, opts.BlockKey}
	} else {
		keys = [][]byte{opts.HashKey}
	}
	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   int(opts.MaxAge / time.Second),
		Secure:   opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)

	return &CookieStore{store: store, name: opts.Name, maxAge: store.Options.MaxAge}, nil
}

// Name returns the session cookie name.
func (s *CookieStore) Name() string {
	return s.name
}

// Token returns the session token carried by r, or "" when there is none or
// the cookie fails authentication.
func (s *CookieStore) Token(r *http.Request) string {
	sess, err := s.store.Get(r, s.name)
	if err != nil {
		return ""
	}
	token, _ := sess.Values[tokenKey].(string)
	return token
}

// SetToken stores token in the session cookie. Without rememberMe the cookie
// is a browser-session cookie; the signed token still carries its own expiry.
func (s *CookieStore) SetToken(w http.ResponseWriter, r *http.Request, token string, rememberMe bool) error {
	sess, _ := s.store.Get(r, s.name)
	sess.Values[tokenKey] = token
	if rememberMe {
		sess.Options.MaxAge = s.maxAge
	} else {
		sess.Options.MaxAge = 0
	}
	return sess.Save(r, w)
}

// Clear expires the session cookie.
func (s *CookieStore) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, s.name)
	delete(sess.Values, tokenKey)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// SetOAuthState remembers state for the upcoming OAuth callback.
func (s *CookieStore) SetOAuthState(w http.ResponseWriter, r *http.Request, state string) error {
	sess, _ := s.store.Get(r, s.stateName())
	sess.Values[stateKey] = state
	sess.Options.MaxAge = int(OAuthStateTTL / time.Second)
	return sess.Save(r, w)
}

// CheckOAuthState compares got with the stored state and clears the state
// cookie in either case.
func (s *CookieStore) CheckOAuthState(w http.ResponseWriter, r *http.Request, got string) error {
	sess, _ := s.store.Get(r, s.stateName())
	want, _ := sess.Values[stateKey].(string)

	delete(sess.Values, stateKey)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return err
	}

	if want == "" || got == "" || !internal.TokensEqual(want, got) {
		return ErrStateMismatch
	}
	return nil
}

func (s *CookieStore) stateName() string {
	return s.name + "_oauth"
}
