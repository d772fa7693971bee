// Package credstore persists per-session credential material as encrypted
// files, with an optional S3 mirror so sessions survive hosts with
// ephemeral disks.
package credstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"fleet-notify/pkg/logger"
)

const fileExt = ".creds"

// Mirror is an optional remote copy of the credential files
type Mirror interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Store holds encrypted credential bundles keyed by session id
type Store struct {
	dir    string
	key    [32]byte
	mirror Mirror
	log    *logger.Logger
}

// New creates the store. keyHex must decode to 32 bytes. mirror may be nil.
func New(dir, keyHex string, mirror Mirror, log *logger.Logger) (*Store, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("credential key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(raw))
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	s := &Store{dir: dir, mirror: mirror, log: log}
	copy(s.key[:], raw)
	return s, nil
}

// Save encrypts and writes the credential bundle, then mirrors it
// best-effort.
func (s *Store) Save(ctx context.Context, sessionID string, blob []byte) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], blob, &nonce, &s.key)

	if err := os.WriteFile(s.path(sessionID), sealed, 0o600); err != nil {
		return fmt.Errorf("write credentials for %s: %w", sessionID, err)
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, sessionID+fileExt, sealed); err != nil {
			s.log.Warnf("[credstore] mirror upload failed for %s: %v", sessionID, err)
		}
	}
	return nil
}

// Load reads and decrypts the bundle. When the local file is missing it
// falls back to the mirror and re-materializes the file.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	sealed, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) && s.mirror != nil {
		sealed, err = s.mirror.Get(ctx, sessionID+fileExt)
		if err == nil {
			if werr := os.WriteFile(s.path(sessionID), sealed, 0o600); werr != nil {
				s.log.Warnf("[credstore] could not restore local file for %s: %v", sessionID, werr)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if len(sealed) < 24 {
		return nil, fmt.Errorf("credential file for %s is truncated", sessionID)
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	blob, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("credential file for %s failed decryption", sessionID)
	}
	return blob, nil
}

// Delete discards local and mirrored credential material. Irreversible.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if s.mirror != nil {
		if merr := s.mirror.Delete(ctx, sessionID+fileExt); merr != nil {
			s.log.Warnf("[credstore] mirror delete failed for %s: %v", sessionID, merr)
		}
	}
	return nil
}

// List returns session ids with locally persisted credential bundles
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	return ids, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileExt)
}
