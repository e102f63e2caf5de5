// Package password hashes and verifies Spotline account passwords with Argon2id.
//
// Hashes use a PHC-like encoded string. Verify treats hash strings as untrusted input and
// refuses parameters far above the configured cost.
package password
