package credential

import (
	"os"

	"github.com/joho/godotenv"

	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
)

const (
	accessTokenKey  = "ACCESS_TOKEN"
	refreshTokenKey = "REFRESH_TOKEN"
)

// Store persists the access/refresh token pair to a dotenv file, preserving
// every other key in the file. Writes are not retried: a failed persist is
// surfaced so a refreshed token is never silently lost.
type Store struct {
	path string
}

// NewStore creates a store backed by the dotenv file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the token pair from the file. A missing file yields an empty
// credential, which triggers interactive authorization on first run.
func (s *Store) Load() (Credential, error) {
	values, err := godotenv.Read(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, nil
		}
		return Credential{}, boterr.Storage("failed to read credential file", err)
	}

	return Credential{
		AccessToken:  values[accessTokenKey],
		RefreshToken: values[refreshTokenKey],
	}, nil
}

// Persist writes the token pair back, keeping unrelated keys intact.
// Scopes are not persisted; they are re-fetched from the validation
// endpoint on startup.
func (s *Store) Persist(cred Credential) error {
	values, err := godotenv.Read(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return boterr.Storage("failed to read credential file before write", err)
		}
		values = make(map[string]string)
	}

	values[accessTokenKey] = cred.AccessToken
	values[refreshTokenKey] = cred.RefreshToken

	if err := godotenv.Write(values, s.path); err != nil {
		return boterr.Storage("failed to write credential file", err)
	}
	return nil
}
