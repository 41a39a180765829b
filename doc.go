// Package authcore is a credential-and-session engine for multi-service
// platforms. It issues, validates, rotates, and revokes authentication
// token pairs and enforces role-based authorization.
//
// The engine is assembled through a [Builder]: callers supply a Redis
// client for session state, a [UserStore] implementation for user records,
// and the role → permission table. The resulting [Engine] exposes Login,
// Refresh, Logout, and Authorize, plus a background sweeper that revokes
// sessions past their absolute lifetime.
//
// Access tokens are stateless JWTs verified by signature; the session
// store remains the revocation authority and is consulted on every
// Authorize call. Refresh tokens are single-use: each refresh rotates the
// refresh-token ID recorded on the session, and presenting a stale one
// revokes the whole session lineage.
package authcore
