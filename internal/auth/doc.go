// Package auth owns the OAuth credential lifecycle: validation against
// the identity provider, refresh-token exchange, and the interactive
// authorization-code flow with a loopback callback listener. The Manager
// is the only writer of the credential and persists every new token pair
// before adopting it.
package auth
