// Package session implements Spotline's server-side login sessions.
//
// A session is a row keyed by the hash of an opaque random token. The browser holds the
// token inside a signed (and optionally encrypted) cookie; revoking the row logs the
// device out on its next request. A user can list their sessions and close the others.
package session
