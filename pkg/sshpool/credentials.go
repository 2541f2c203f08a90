package sshpool

import (
	"fmt"
	"sort"
)

// Credential holds the connection parameters for one remote host. Credentials
// are loaded once from configuration and never mutated afterwards.
type Credential struct {
	HostID     string
	Address    string
	Port       int
	Username   string
	Password   string
	PrivateKey string
}

func (c Credential) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// CredentialStore is a read-only lookup table of host credentials keyed by
// host identity.
type CredentialStore struct {
	creds map[string]Credential
}

func NewCredentialStore(creds []Credential) *CredentialStore {
	m := make(map[string]Credential, len(creds))
	for _, c := range creds {
		m[c.HostID] = c
	}
	return &CredentialStore{creds: m}
}

func (s *CredentialStore) Lookup(hostID string) (Credential, bool) {
	c, ok := s.creds[hostID]
	return c, ok
}

func (s *CredentialStore) HostIDs() []string {
	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
