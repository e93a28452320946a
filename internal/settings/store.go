// Package settings owns the tool configuration tree and its encrypted file.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/sealed"
	"github.com/rs/zerolog"
)

var ErrUnknownTool = errors.New("settings: unknown tool")

// Store is the single owner of the configuration document.
type Store struct {
	mu       sync.RWMutex
	path     string
	codec    *sealed.Codec
	doc      Document
	revision uint64
	log      zerolog.Logger
}

// Open loads path into a new store. A missing or unreadable file yields
// factory defaults; only a failed read of an existing file is an error.
func Open(path string, codec *sealed.Codec) (*Store, error) {
	if codec == nil {
		codec = sealed.Default()
	}
	s := &Store{
		path:  path,
		codec: codec,
		doc:   Defaults(),
		log:   logging.For("settings"),
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	return s.parse(raw), nil
}

// parse decodes raw onto defaults so absent fields keep factory values.
// Plaintext JSON from older installs is accepted.
func (s *Store) parse(raw []byte) Document {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Defaults()
	}
	plain := trimmed
	if trimmed[0] != '{' {
		decoded, err := s.codec.Decode(string(trimmed))
		if err != nil {
			s.log.Warn().Err(err).Str("path", s.path).Msg("config unreadable, using defaults")
			return Defaults()
		}
		plain = decoded
	}
	doc := Defaults()
	if err := json.Unmarshal(plain, &doc); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("config malformed, using defaults")
		return Defaults()
	}
	normalize(&doc)
	return doc
}

func normalize(doc *Document) {
	if doc.Tools.Cloudflared.Mode != TunnelAuto {
		doc.Tools.Cloudflared.Mode = TunnelFixed
	}
	if doc.Tools.Cloudflared.Protocol == "" {
		doc.Tools.Cloudflared.Protocol = "http"
	}
	if doc.Tools.Nezha.Version != NezhaV0 {
		doc.Tools.Nezha.Version = NezhaV1
	}
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Revision counts successful saves since Open.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Update applies fn to a copy of the document and persists it. The in-memory
// document only changes when the save succeeds.
func (s *Store) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc
	if err := fn(&next); err != nil {
		return err
	}
	normalize(&next)
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Reset restores id to factory defaults and persists.
func (s *Store) Reset(id ToolID) error {
	return s.Update(func(d *Document) error {
		return d.reset(id)
	})
}

// SetTunnelURL records a discovered tunnel host. It persists only when the
// value changes and reports whether it did.
func (s *Store) SetTunnelURL(host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Tools.Cloudflared.TunnelURL == host {
		return false, nil
	}
	next := s.doc
	next.Tools.Cloudflared.TunnelURL = host
	if err := s.saveLocked(next); err != nil {
		return false, err
	}
	s.doc = next
	return true, nil
}

// SetNezhaUUID stores id when no client id is set yet and returns the id in
// effect.
func (s *Store) SetNezhaUUID(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Tools.Nezha.UUID != "" {
		return s.doc.Tools.Nezha.UUID, nil
	}
	next := s.doc
	next.Tools.Nezha.UUID = id
	if err := s.saveLocked(next); err != nil {
		return "", err
	}
	s.doc = next
	return id, nil
}

// Save persists the current document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(s.doc)
}

func (s *Store) saveLocked(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.codec.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("settings: save %s: %w", s.path, err)
	}
	s.revision++
	return nil
}

// Reload re-reads the file and reports whether the document changed. The
// lock is held across the read so a concurrent save cannot be rolled back.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return false, err
	}
	if doc == s.doc {
		return false, nil
	}
	s.doc = doc
	s.log.Info().Str("path", s.path).Msg("config reloaded")
	return true, nil
}
