// Package twitch wraps the Helix API client for subscription creation,
// chat messages, and user lookups.
package twitch
