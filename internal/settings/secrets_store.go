package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretsStore persists user-provided secrets to a local file, separate from config.json.
//
// Secrets must never be returned to clients in plaintext. Callers expose derived status
// fields such as "github_connected" instead.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

type secretsFile struct {
	SchemaVersion int            `json:"schema_version"`
	GitHub        *githubSecrets `json:"github,omitempty"`
	AI            *aiSecrets     `json:"ai,omitempty"`
}

type githubSecrets struct {
	Token             string `json:"token,omitempty"`
	OAuthClientSecret string `json:"oauth_client_secret,omitempty"`
}

type aiSecrets struct {
	ProviderAPIKeys map[string]string `json:"provider_api_keys,omitempty"`
}

// Status is the client-safe view of the store.
type Status struct {
	GitHubConnected   bool            `json:"github_connected"`
	OAuthConfigured   bool            `json:"oauth_configured"`
	ProviderAPIKeySet map[string]bool `json:"provider_api_key_set,omitempty"`
}

// GitHubToken returns the stored token. ok is false when none is set.
func (s *SecretsStore) GitHubToken() (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf.GitHub == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.GitHub.Token)
	return v, v != "", nil
}

// SetGitHubToken stores token. An empty token clears it.
func (s *SecretsStore) SetGitHubToken(token string) error {
	return s.update(func(sf *secretsFile) error {
		if sf.GitHub == nil {
			sf.GitHub = &githubSecrets{}
		}
		sf.GitHub.Token = strings.TrimSpace(token)
		return nil
	})
}

func (s *SecretsStore) OAuthClientSecret() (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf.GitHub == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.GitHub.OAuthClientSecret)
	return v, v != "", nil
}

func (s *SecretsStore) SetOAuthClientSecret(secret string) error {
	return s.update(func(sf *secretsFile) error {
		if sf.GitHub == nil {
			sf.GitHub = &githubSecrets{}
		}
		sf.GitHub.OAuthClientSecret = strings.TrimSpace(secret)
		return nil
	})
}

func (s *SecretsStore) GetAIProviderAPIKey(providerID string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", false, errors.New("missing provider id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf.AI == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.AI.ProviderAPIKeys[providerID])
	return v, v != "", nil
}

// SetAIProviderAPIKey stores the key of providerID. An empty key clears it.
func (s *SecretsStore) SetAIProviderAPIKey(providerID string, apiKey string) error {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("missing provider id")
	}
	return s.update(func(sf *secretsFile) error {
		if sf.AI == nil {
			sf.AI = &aiSecrets{}
		}
		if sf.AI.ProviderAPIKeys == nil {
			sf.AI.ProviderAPIKeys = make(map[string]string)
		}
		key := strings.TrimSpace(apiKey)
		if key == "" {
			delete(sf.AI.ProviderAPIKeys, providerID)
		} else {
			sf.AI.ProviderAPIKeys[providerID] = key
		}
		if len(sf.AI.ProviderAPIKeys) == 0 {
			sf.AI = nil
		}
		return nil
	})
}

// Status reports which secrets are present without revealing them.
func (s *SecretsStore) Status(providerIDs ...string) (Status, error) {
	if s == nil {
		return Status{}, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return Status{}, err
	}
	var st Status
	if sf.GitHub != nil {
		st.GitHubConnected = strings.TrimSpace(sf.GitHub.Token) != ""
		st.OAuthConfigured = strings.TrimSpace(sf.GitHub.OAuthClientSecret) != ""
	}
	if len(providerIDs) > 0 {
		st.ProviderAPIKeySet = make(map[string]bool, len(providerIDs))
		for _, id := range providerIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			st.ProviderAPIKeySet[id] = sf.AI != nil && strings.TrimSpace(sf.AI.ProviderAPIKeys[id]) != ""
		}
	}
	return st, nil
}

func (s *SecretsStore) update(fn func(*secretsFile) error) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(sf); err != nil {
		return err
	}
	if sf.GitHub != nil && sf.GitHub.Token == "" && sf.GitHub.OAuthClientSecret == "" {
		sf.GitHub = nil
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, err
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	if sf == nil {
		return errors.New("nil secrets")
	}
	path := strings.TrimSpace(s.path)
	if path == "" {
		return errors.New("missing secrets path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
