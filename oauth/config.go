package oauth

// Credentials are the client credentials for one provider.
type Credentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

func (c Credentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config lists the provider credentials. Providers without both a client ID
// and a secret are skipped.
type Config struct {
	CallbackBaseURL string      `env:"OAUTH_CALLBACK_BASE_URL, default=http://localhost:3000"`
	Google          Credentials `env:", prefix=OAUTH_GOOGLE_"`
	GitHub          Credentials `env:", prefix=OAUTH_GITHUB_"`
	Facebook        Credentials `env:", prefix=OAUTH_FACEBOOK_"`
}
