package authcore

import "context"

// AccountStatus is the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive allows login and refresh.
	AccountActive AccountStatus = iota
	// AccountDisabled blocks all authentication until re-enabled.
	AccountDisabled
	// AccountLocked blocks authentication; set manually or by the
	// consecutive-failure lockout policy.
	AccountLocked
)

// UserRecord is the read-mostly view of a user identity held by the engine.
// The record is owned by the [UserStore]; the engine only mutates account
// status (lock/unlock).
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Roles        []string
	Groups       []string
	Status       AccountStatus
}

// UserStore is the storage port for user identities. Implementations back it
// with whatever document store the platform uses; the engine never sees the
// store directly. Lookups by unknown identifier or ID return
// [ErrUserNotFound]; transient backend failures are wrapped in
// [ErrStorageUnavailable].
type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdateAccountStatus(ctx context.Context, userID string, status AccountStatus) error
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// TokenPair is returned by [Engine.Login] and [Engine.Refresh]. Both tokens
// are compact signed JWTs usable directly as Authorization bearer values.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is returned by [Engine.Authorize]. Roles are the snapshot
// minted into the access token, not a live lookup; a role change takes
// effect at the next refresh.
type AuthResult struct {
	UserID    string
	SessionID string
	Roles     []string
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountLocked:
		return ErrAccountLocked
	default:
		return nil
	}
}

// effectiveRoles merges role and group names into the role snapshot minted
// into tokens. Groups resolve through the same permission table as roles.
func effectiveRoles(user UserRecord) []string {
	if len(user.Groups) == 0 {
		return append([]string(nil), user.Roles...)
	}

	merged := make([]string, 0, len(user.Roles)+len(user.Groups))
	seen := make(map[string]struct{}, len(user.Roles)+len(user.Groups))
	for _, lists := range [][]string{user.Roles, user.Groups} {
		for _, name := range lists {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, name)
		}
	}
	return merged
}
