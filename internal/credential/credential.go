// Package credential holds the bot's OAuth credential and persists it to
// the .env file it was loaded from.
package credential

// Credential is the current access/refresh token pair plus the scopes the
// authorization server reported as granted.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Scopes       []string
}

// Empty reports whether no access token is present.
func (c Credential) Empty() bool {
	return c.AccessToken == ""
}

// HasScopes reports whether the granted scopes are a superset of required.
func (c Credential) HasScopes(required []string) bool {
	granted := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}
