// Package identity owns Spotline user accounts: registration, credential checks and lookups
// by id or (case-insensitive) email.
//
// Passwords are hashed with cmd/security/password; pseudos are sanitized with bluemonday
// before they are stored.
package identity
