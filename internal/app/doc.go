// Package app contains the supervisor run loop tying credential
// management and the EventSub channel together.
package app
