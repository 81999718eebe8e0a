package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	internalflows "github.com/indigoroots/authcore/internal/flows"
	"github.com/indigoroots/authcore/internal/rate"
	"github.com/indigoroots/authcore/jwt"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

// Login authenticates cred and issues a signed session. Every password
// failure collapses to [ErrInvalidCredentials]. OAuth identities create the
// account on first use and refresh its profile afterwards.
//
// The session lifetime is fixed; rememberMe is recorded in the claims and
// decides whether transports persist the token beyond the browser session.
func (e *Engine) Login(ctx context.Context, cred Credential, rememberMe bool) (IssuedSession, error) {
	if !e.ready() {
		return IssuedSession{}, ErrEngineNotReady
	}

	var lc internalflows.LoginCredential
	switch c := cred.(type) {
	case PasswordCredential:
		lc = internalflows.LoginCredential{
			Kind:     internalflows.CredentialPassword,
			Email:    strings.TrimSpace(c.Email),
			Password: c.Password,
		}
	case *PasswordCredential:
		if c == nil {
			return IssuedSession{}, ErrInvalidCredentials
		}
		return e.Login(ctx, *c, rememberMe)
	case OAuthIdentity:
		lc = internalflows.LoginCredential{
			Kind:     internalflows.CredentialOAuth,
			Email:    strings.TrimSpace(c.Email),
			Provider: c.Provider,
			Subject:  c.Subject,
			Name:     c.Name,
			Picture:  c.Picture,
		}
	case *OAuthIdentity:
		if c == nil {
			return IssuedSession{}, ErrInvalidCredentials
		}
		return e.Login(ctx, *c, rememberMe)
	default:
		return IssuedSession{}, ErrInvalidCredentials
	}

	res, err := internalflows.RunLogin(ctx, lc, rememberMe, e.flows.Login)
	if err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{
		Token:      res.Token,
		ExpiresAt:  res.ExpiresAt,
		RememberMe: res.RememberMe,
		User:       sessionUserFromFlow(res.User),
	}, nil
}

func (e *Engine) LoginWithPassword(ctx context.Context, email, password string, rememberMe bool) (IssuedSession, error) {
	return e.Login(ctx, PasswordCredential{Email: email, Password: password}, rememberMe)
}

func (e *Engine) LoginWithOAuth(ctx context.Context, identity OAuthIdentity, rememberMe bool) (IssuedSession, error) {
	return e.Login(ctx, identity, rememberMe)
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	cfg := e.config

	deps := internalflows.LoginDeps{
		RequireVerified:        cfg.EmailVerification.RequireForLogin,
		PasswordUpgradeOnLogin: cfg.Password.UpgradeOnLogin,
		DefaultRole:            string(cfg.Registration.DefaultRole),
		ClientIPFromContext:    clientIPFromContext,
		Now:                    e.now,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, rate.ErrRateLimited)
		},
		GetUserByEmail: func(ctx context.Context, email string) (internalflows.LoginUserRecord, error) {
			u, err := e.users.GetUserByEmail(ctx, email)
			if err != nil {
				return internalflows.LoginUserRecord{}, err
			}
			return loginRecordFromUser(u), nil
		},
		IsUserNotFound:      isStoreNotFound,
		CreateOAuthUser:     e.createOAuthUser,
		RefreshOAuthProfile: e.refreshOAuthProfile,
		UpdatePasswordHash: func(ctx context.Context, userID, hash string) error {
			return e.users.UpdatePasswordHash(ctx, userID, hash)
		},
		VerifyPassword: e.hasher.Verify,
		BurnPasswordCheck: func(plaintext string) {
			_, _ = e.hasher.Verify(plaintext, e.dummyHash)
		},
		PasswordNeedsUpgrade: e.hasher.NeedsRehash,
		HashPassword:         e.hasher.Hash,
		IssueSession: func(u internalflows.SessionUser, rememberMe bool, now time.Time) (string, time.Time, error) {
			return e.jwt.Issue(jwt.Subject{
				UserID:     u.ID,
				Role:       u.Role,
				Email:      u.Email,
				Name:       u.Name,
				Picture:    u.Picture,
				RememberMe: rememberMe,
			}, now)
		},
		MetricInc:     e.flowMetricInc,
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Warn: func(format string, args ...any) {
			e.log.Warn().Msgf(format, args...)
		},
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
			SessionCreated:   int(MetricSessionCreated),
			OAuthUserCreated: int(MetricOAuthUserCreated),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
			OAuthUserCreated: auditEventOAuthUserCreated,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			LoginRateLimited:   ErrLoginRateLimited,
			Dependency:         dependencyMapper(CodeLoginDependencyFailed),
		},
	}

	if e.rateLimiter != nil {
		deps.CheckLoginRate = e.rateLimiter.CheckLogin
		deps.IncrementLoginRate = e.rateLimiter.IncrementLogin
		deps.ResetLoginRate = e.rateLimiter.ResetLogin
	}
	return deps
}

func (e *Engine) createOAuthUser(ctx context.Context, cred internalflows.LoginCredential, role string, now time.Time) (internalflows.LoginUserRecord, error) {
	u, err := e.users.CreateUser(ctx, store.NewUser{
		Email:         cred.Email,
		Name:          cred.Name,
		Role:          permission.Role(role),
		Image:         cred.Picture,
		EmailVerified: &now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent first sign-in created the account; treat it as existing.
		existing, getErr := e.users.GetUserByEmail(ctx, cred.Email)
		if getErr != nil {
			return internalflows.LoginUserRecord{}, getErr
		}
		return e.refreshOAuthProfile(ctx, existing.ID, cred, now)
	}
	if err != nil {
		return internalflows.LoginUserRecord{}, err
	}
	return loginRecordFromUser(u), nil
}

func (e *Engine) refreshOAuthProfile(ctx context.Context, userID string, cred internalflows.LoginCredential, now time.Time) (internalflows.LoginUserRecord, error) {
	u, err := e.users.UpdateProfile(ctx, userID, store.ProfileUpdate{
		Name:          cred.Name,
		Image:         cred.Picture,
		EmailVerified: now,
	})
	if err != nil {
		return internalflows.LoginUserRecord{}, err
	}
	return loginRecordFromUser(u), nil
}

func loginRecordFromUser(u store.User) internalflows.LoginUserRecord {
	return internalflows.LoginUserRecord{
		UserID:        u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Image:         u.Image,
		PasswordHash:  u.PasswordHash,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified != nil,
	}
}

func sessionUserFromFlow(u internalflows.SessionUser) SessionUser {
	return SessionUser{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  permission.Role(u.Role),
		Image: u.Picture,
	}
}
