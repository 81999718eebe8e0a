package authcore

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/indigoroots/authcore/email"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
	"github.com/indigoroots/authcore/store/memory"
)

const testSecret = "test-session-secret-0123456789abcdef"

var tokenPattern = regexp.MustCompile(`token=([0-9a-f]+)`)

type captureSender struct {
	mu       sync.Mutex
	messages []email.Message
	err      error
}

func (s *captureSender) Send(_ context.Context, msg email.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if s.err != nil {
		return "", s.err
	}
	return "msg-" + time.Now().Format("150405.000000"), nil
}

func (s *captureSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// withSubject returns every captured message whose subject starts with prefix.
func (s *captureSender) withSubject(prefix string) []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []email.Message
	for _, m := range s.messages {
		if strings.HasPrefix(m.Subject, prefix) {
			out = append(out, m)
		}
	}
	return out
}

func (s *captureSender) lastToken(t *testing.T, subjectPrefix string) string {
	t.Helper()
	msgs := s.withSubject(subjectPrefix)
	if len(msgs) == 0 {
		t.Fatalf("no message with subject %q captured", subjectPrefix)
	}
	m := tokenPattern.FindStringSubmatch(msgs[len(msgs)-1].Text)
	if m == nil {
		t.Fatalf("no token link in message body: %q", msgs[len(msgs)-1].Text)
	}
	return m[1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.Secret = testSecret
	cfg.Password.Cost = bcrypt.MinCost
	cfg.PasswordReset.EnumerationDelayMin = 0
	cfg.PasswordReset.EnumerationDelayMax = 0
	cfg.Email.SendAttempts = 1
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	sender *captureSender
	clock  *testClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env := &testEnv{
		store:  memory.New(),
		sender: &captureSender{},
		clock:  newTestClock(),
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithEmailSender(env.sender).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) seedUser(t *testing.T, addr, name, plaintext string, role permission.Role, verified bool) store.User {
	t.Helper()

	var hash string
	if plaintext != "" {
		var err error
		hash, err = env.engine.hasher.Hash(plaintext)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
	}
	in := store.NewUser{Email: addr, Name: name, PasswordHash: hash, Role: role}
	if verified {
		at := env.clock.Now()
		in.EmailVerified = &at
	}
	u, err := env.store.CreateUser(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}
