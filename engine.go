package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/authcore/internal/limiters"
	"github.com/kestrelsec/authcore/jwt"
	"github.com/kestrelsec/authcore/rbac"
	"github.com/kestrelsec/authcore/session"
)

// Engine orchestrates credential verification, token issuance, refresh
// rotation, revocation and authorization. Construct one with [NewBuilder];
// a zero Engine is not usable. All methods are safe for concurrent use.
type Engine struct {
	config   Config
	users    UserStore
	hasher   passwordVerifier
	tokens   *jwt.Manager
	sessions *session.Store
	rbac     *rbac.Resolver
	lockout  *limiters.LockoutLimiter
	metrics  *Metrics
	audit    *auditDispatcher

	// dummyHash is verified against for unknown identifiers so Login's
	// timing does not reveal whether an identifier exists.
	dummyHash string

	sweepStop chan struct{}
	sweepDone sync.WaitGroup
	closeOnce sync.Once
}

// passwordVerifier is the slice of password.Hasher the engine needs.
type passwordVerifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encodedDigest string) (bool, error)
}

/*
====================================
LOGIN
====================================
*/

// Login verifies credentials, creates a session and returns a fresh token
// pair. Unknown identifiers and wrong passwords both return
// [ErrInvalidCredentials]; a dummy digest is verified for unknown
// identifiers so the two paths cost the same. Account status is checked
// before the credential result is revealed, so a locked or disabled account
// reports its status even on a wrong password.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if identifier == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, lookupErr := e.users.GetUserByIdentifier(ctx, identifier)
	if lookupErr != nil && !errors.Is(lookupErr, ErrUserNotFound) {
		e.metrics.Inc(MetricStorageFailure)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, lookupErr)
	}

	digest := e.dummyHash
	if lookupErr == nil {
		digest = user.PasswordHash
	}

	match, verifyErr := e.hasher.Verify(password, digest)
	if verifyErr != nil {
		// A digest we wrote ourselves should always parse. Treat this as
		// a failed credential rather than leaking store internals.
		match = false
	}

	if lookupErr != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrUserNotFound, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, ErrInvalidCredentials
	}

	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", statusErr, nil)
		return nil, statusErr
	}

	if !match {
		return nil, e.failLogin(ctx, user)
	}

	if e.lockout != nil {
		if err := e.lockout.Reset(ctx, user.UserID); err != nil {
			e.metrics.Inc(MetricStorageFailure)
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	pair, sessionID, err := e.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, nil)

	return pair, nil
}

// failLogin records a failed credential check, applying the lockout policy.
func (e *Engine) failLogin(ctx context.Context, user UserRecord) error {
	e.metrics.Inc(MetricLoginFailure)

	if e.lockout != nil {
		thresholdReached, err := e.lockout.RecordFailure(ctx, user.UserID)
		if err != nil {
			e.metrics.Inc(MetricStorageFailure)
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if thresholdReached {
			if err := e.users.UpdateAccountStatus(ctx, user.UserID, AccountLocked); err != nil {
				e.metrics.Inc(MetricStorageFailure)
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
			e.metrics.Inc(MetricAccountLockout)
			e.emitAudit(ctx, auditEventAccountLockout, false, user.UserID, "", ErrAccountLocked, nil)
			return ErrAccountLocked
		}
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// establishSession creates a session record and mints the token pair as one
// logical unit. If minting fails after the record was written, the session
// is revoked best-effort so no orphan lineage survives.
func (e *Engine) establishSession(ctx context.Context, user UserRecord) (*TokenPair, string, error) {
	sessionID := uuid.NewString()
	refreshID := uuid.NewString()

	if _, err := e.sessions.Create(ctx, sessionID, user.UserID, refreshID); err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	pair, err := e.mintPair(user.UserID, sessionID, effectiveRoles(user), refreshID)
	if err != nil {
		if _, revokeErr := e.sessions.Revoke(ctx, sessionID); revokeErr == nil {
			e.metrics.Inc(MetricSessionRevoked)
		}
		return nil, "", err
	}

	return pair, sessionID, nil
}

func (e *Engine) mintPair(userID, sessionID string, roles []string, refreshID string) (*TokenPair, error) {
	access, err := e.tokens.Mint(userID, sessionID, roles, jwt.TypeAccess, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	refresh, err := e.tokens.Mint(userID, sessionID, nil, jwt.TypeRefresh, refreshID)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a valid, unconsumed refresh token for a new token pair.
// Each refresh token is single-use: the store swap consumes it, and exactly
// one of any number of concurrent presentations wins. Presenting an already
// consumed token returns [ErrReplayDetected] and revokes the whole session
// lineage. Roles are re-read from the user store, so role changes take
// effect here.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrInvalidInput
	}

	claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		mapped := mapTokenError(err)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", mapped, nil)
		return nil, mapped
	}

	newRefreshID := uuid.NewString()
	sess, err := e.sessions.Rotate(ctx, claims.SessionID, claims.ID, newRefreshID)
	if err != nil {
		return nil, e.failRefresh(ctx, claims.Subject, claims.SessionID, err)
	}

	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Account deleted while the session lived. Kill the lineage.
			if transitioned, _ := e.sessions.Revoke(ctx, sess.SessionID); transitioned {
				e.metrics.Inc(MetricSessionRevoked)
			}
			e.metrics.Inc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, ErrUserNotFound, nil)
			return nil, ErrSessionRevoked
		}
		e.metrics.Inc(MetricStorageFailure)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		if transitioned, _ := e.sessions.Revoke(ctx, sess.SessionID); transitioned {
			e.metrics.Inc(MetricSessionRevoked)
		}
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, user.UserID, sess.SessionID, statusErr, nil)
		return nil, statusErr
	}

	pair, err := e.mintPair(user.UserID, sess.SessionID, effectiveRoles(user), newRefreshID)
	if err != nil {
		if transitioned, _ := e.sessions.Revoke(ctx, sess.SessionID); transitioned {
			e.metrics.Inc(MetricSessionRevoked)
		}
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, sess.SessionID, nil, nil)

	return pair, nil
}

func (e *Engine) failRefresh(ctx context.Context, userID, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshIDMismatch):
		// The store already revoked the lineage.
		e.metrics.Inc(MetricReplayDetected)
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventReplayDetected, false, userID, sessionID, ErrReplayDetected, nil)
		return ErrReplayDetected
	case errors.Is(err, session.ErrRevoked), errors.Is(err, session.ErrExpired):
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, sessionID, ErrSessionRevoked, nil)
		return ErrSessionRevoked
	case errors.Is(err, session.ErrNotFound):
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, sessionID, ErrSessionNotFound, nil)
		return ErrSessionNotFound
	default:
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

/*
====================================
AUTHORIZE
====================================
*/

// Authorize validates an access token, confirms its session is still live
// and checks the token's role snapshot against requiredPermission. The
// session store is the revocation authority: a cryptographically valid
// token whose session has been revoked is rejected with
// [ErrSessionRevoked]. Pass an empty requiredPermission to authenticate
// without a permission check.
func (e *Engine) Authorize(ctx context.Context, accessToken, requiredPermission string) (*AuthResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}()

	claims, err := e.tokens.Parse(accessToken, jwt.TypeAccess)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeDeny)
		return nil, mapTokenError(err)
	}

	active, err := e.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !active {
		e.metrics.Inc(MetricAuthorizeDeny)
		e.emitAudit(ctx, auditEventAuthorizeDenied, false, claims.Subject, claims.SessionID, ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	}

	if requiredPermission != "" {
		if e.rbac.Authorize(claims.Roles, requiredPermission) != rbac.Allow {
			e.metrics.Inc(MetricAuthorizeDeny)
			e.emitAudit(ctx, auditEventAuthorizeDenied, false, claims.Subject, claims.SessionID, ErrPermissionDenied, func() map[string]string {
				return map[string]string{"permission": requiredPermission}
			})
			return nil, ErrPermissionDenied
		}
	}

	e.metrics.Inc(MetricAuthorizeAllow)

	return &AuthResult{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
	}, nil
}

/*
====================================
LOGOUT AND REVOCATION
====================================
*/

// Logout revokes the session named by any structurally valid token of
// either type, expired or not. It is idempotent: logging out an already
// revoked or unknown session succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrInvalidInput
	}

	sessionID, userID, err := e.sessionFromAnyToken(token)
	if err != nil {
		return err
	}

	transitioned, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if transitioned {
		e.metrics.Inc(MetricLogout)
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventLogoutSession, true, userID, sessionID, nil, nil)
	}

	return nil
}

// sessionFromAnyToken extracts the session identity from a token of either
// type. Expiry is deliberately ignored; an expired token is still good
// enough to name the session it wants revoked.
func (e *Engine) sessionFromAnyToken(token string) (sessionID, userID string, err error) {
	claims, parseErr := e.tokens.Parse(token, jwt.TypeAccess)
	if parseErr == nil {
		return claims.SessionID, claims.Subject, nil
	}
	if errors.Is(parseErr, jwt.ErrTypeMismatch) {
		if claims, parseErr = e.tokens.Parse(token, jwt.TypeRefresh); parseErr == nil {
			return claims.SessionID, claims.Subject, nil
		}
	}
	if errors.Is(parseErr, jwt.ErrExpired) {
		// Signature and structure were fine. Recover the claims without
		// lifetime validation.
		if claims := e.tokens.ParseUnverifiedExpiry(token); claims != nil {
			return claims.SessionID, claims.Subject, nil
		}
	}
	return "", "", mapTokenError(parseErr)
}

// RevokeSession revokes a session by ID, for administrative use. Idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return ErrInvalidInput
	}

	transitioned, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if transitioned {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, nil, nil)
	}

	return nil
}

// RevokeAllSessions revokes every session owned by userID and returns how
// many transitioned.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrInvalidInput
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if revoked > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(revoked))
	}
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return revoked, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return revoked, nil
}

/*
====================================
ACCOUNT MANAGEMENT
====================================
*/

// ChangePassword verifies the current password, stores a new digest and
// revokes every session the user holds, forcing re-authentication
// everywhere.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if userID == "" || currentPassword == "" || newPassword == "" {
		return ErrInvalidInput
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	match, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !match {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrInvalidInput
	}

	if err := e.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if revoked > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(revoked))
	}
	if err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})

	return nil
}

// UnlockAccount clears a lockout: the account returns to active and the
// failure counter resets. A no-op for accounts that are not locked.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrInvalidInput
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if user.Status != AccountLocked {
		return nil
	}

	if err := e.users.UpdateAccountStatus(ctx, userID, AccountActive); err != nil {
		e.metrics.Inc(MetricStorageFailure)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if e.lockout != nil {
		if err := e.lockout.Reset(ctx, userID); err != nil {
			e.metrics.Inc(MetricStorageFailure)
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	e.emitAudit(ctx, auditEventAccountUnlock, true, userID, "", nil, nil)
	return nil
}

/*
====================================
POLICY AND OBSERVABILITY
====================================
*/

// ReplaceRoles swaps the role-to-permission table. The change applies to
// every Authorize call that starts after it returns.
func (e *Engine) ReplaceRoles(roles map[string][]string) {
	if e == nil || e.rbac == nil {
		return
	}
	e.rbac.ReplaceRoles(roles)
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Metrics exposes the live registry for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditDropped returns how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close stops the expiry sweeper and flushes the audit dispatcher. The
// engine must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			e.sweepDone.Wait()
		}
		e.audit.Close()
	})
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTypeMismatch):
		return ErrTokenTypeMismatch
	default:
		return ErrTokenMalformed
	}
}
