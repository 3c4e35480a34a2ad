// Package auth issues API tokens and resolves presented tokens to an
// rbac.Principal.
//
// # Tokens
//
// Tokens have the form permgate_<base64url(32 random bytes)>. Only the
// SHA-256 hash is stored; the plaintext is returned once by CreateToken.
// A short prefix is kept for display.
//
//	store := auth.NewTokenStore(db)
//	tok, plaintext, err := store.CreateToken(ctx, userID, "ci", nil)
//
// # Authentication
//
// Authenticate looks the token up by hash, joins the owner's account role,
// rejects revoked and expired tokens and records the time of use:
//
//	principal, err := store.Authenticate(ctx, plaintext)
//	ctx = rbac.WithPrincipal(ctx, principal)
package auth
