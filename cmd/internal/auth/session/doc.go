// Package session manages logins: one Session per device or browser.
//
// Revoking a session deactivates it and revokes every refresh token under it
// in the same transaction. Sessions are never reactivated.
package session
