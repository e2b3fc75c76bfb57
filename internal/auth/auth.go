// Package auth stores anaconda.org channel tokens in the platform's
// credential store.
package auth

import (
	"errors"
	"fmt"
	"sort"

	"github.com/99designs/keyring"
)

const defaultServiceName = "constructor-manager"

// ErrNotFound is returned when no token is stored for a channel.
var ErrNotFound = errors.New("no token stored for channel")

// Store persists per-channel index tokens.
type Store struct {
	ring keyring.Keyring
}

// Config configures Open.
type Config struct {
	// ServiceName namespaces keyring entries. Defaults to
	// "constructor-manager".
	ServiceName string
}

// Open opens the system keyring.
func Open(cfg Config) (*Store, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              name,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// SetToken stores the token for a channel, replacing any existing one.
func (s *Store) SetToken(channel, token string) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	if token == "" {
		return errors.New("token is required")
	}
	err := s.ring.Set(keyring.Item{
		Key:   channel,
		Data:  []byte(token),
		Label: defaultServiceName + " token for " + channel,
	})
	if err != nil {
		return fmt.Errorf("store token for %s: %w", channel, err)
	}
	return nil
}

// Token returns the stored token for a channel, or ErrNotFound.
func (s *Store) Token(channel string) (string, error) {
	item, err := s.ring.Get(channel)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, channel)
	}
	if err != nil {
		return "", fmt.Errorf("read token for %s: %w", channel, err)
	}
	return string(item.Data), nil
}

// DeleteToken removes the stored token for a channel. Deleting a channel
// with no token is not an error.
func (s *Store) DeleteToken(channel string) error {
	err := s.ring.Remove(channel)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete token for %s: %w", channel, err)
	}
	return nil
}

// Channels lists the channels with a stored token, sorted.
func (s *Store) Channels() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("list stored channels: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
