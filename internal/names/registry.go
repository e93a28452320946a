// Package names assigns randomized on-disk file names to logical artifacts.
//
// Each (kind, logical) key maps to a 12 character [a-z0-9] name that stays
// stable until the key is cleared. The mapping is persisted through the
// sealed codec after every mutation.
package names

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/sealed"
	"github.com/rs/zerolog"
)

const (
	NameLength = 12
	alphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Kind is the artifact type half of a registry key.
type Kind string

const (
	KindBinary Kind = "bin"
	KindConfig Kind = "cfg"
	KindGzip   Kind = "gz"
	KindZip    Kind = "zip"
)

var ErrInvalidKey = errors.New("names: invalid key")

// Registry is safe for concurrent use. All calls are serialized by one mutex.
type Registry struct {
	mu      sync.Mutex
	path    string
	codec   *sealed.Codec
	entries map[string]string
	loaded  bool
	log     zerolog.Logger
}

// Open returns a registry persisted at path. The file is read on first use.
func Open(path string, codec *sealed.Codec) *Registry {
	if codec == nil {
		codec = sealed.Default()
	}
	return &Registry{
		path:  path,
		codec: codec,
		log:   logging.For("names"),
	}
}

func key(kind Kind, logical string) (string, error) {
	if strings.TrimSpace(string(kind)) == "" || strings.TrimSpace(logical) == "" {
		return "", fmt.Errorf("%w: kind=%q logical=%q", ErrInvalidKey, kind, logical)
	}
	return string(kind) + ":" + logical, nil
}

// Resolve returns the name mapped to (kind, logical), assigning and persisting
// a new one when the key is unmapped.
func (r *Registry) Resolve(kind Kind, logical string) (string, error) {
	k, err := key(kind, logical)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()

	if name, ok := r.entries[k]; ok {
		return name, nil
	}
	name := r.generateLocked()
	r.entries[k] = name
	if err := r.persistLocked(); err != nil {
		delete(r.entries, k)
		return "", err
	}
	r.log.Debug().Str("key", k).Str("name", name).Msg("name assigned")
	return name, nil
}

// Lookup returns the mapped name without assigning one.
func (r *Registry) Lookup(kind Kind, logical string) (string, bool) {
	k, err := key(kind, logical)
	if err != nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	name, ok := r.entries[k]
	return name, ok
}

// Clear removes the mapping for (kind, logical). Clearing an unmapped key is
// a no-op and does not touch the file.
func (r *Registry) Clear(kind Kind, logical string) error {
	k, err := key(kind, logical)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()

	prev, ok := r.entries[k]
	if !ok {
		return nil
	}
	delete(r.entries, k)
	if err := r.persistLocked(); err != nil {
		r.entries[k] = prev
		return err
	}
	r.log.Debug().Str("key", k).Msg("name cleared")
	return nil
}

// Len reports the number of mapped keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	return len(r.entries)
}

func (r *Registry) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true
	r.entries = make(map[string]string)

	plain, err := r.codec.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Warn().Err(err).Str("path", r.path).Msg("name registry unreadable, starting empty")
		}
		return
	}
	var stored map[string]string
	if err := json.Unmarshal(plain, &stored); err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("name registry corrupt, starting empty")
		return
	}
	for k, v := range stored {
		if isValidName(v) {
			r.entries[k] = v
		}
	}
}

func (r *Registry) persistLocked() error {
	data, err := json.Marshal(r.entries)
	if err != nil {
		return fmt.Errorf("names: encode registry: %w", err)
	}
	if err := r.codec.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("names: persist registry: %w", err)
	}
	return nil
}

func (r *Registry) generateLocked() string {
	used := make(map[string]struct{}, len(r.entries))
	for _, v := range r.entries {
		used[v] = struct{}{}
	}
	for {
		var b strings.Builder
		b.Grow(NameLength)
		for i := 0; i < NameLength; i++ {
			b.WriteByte(alphabet[rand.Intn(len(alphabet))])
		}
		name := b.String()
		if _, taken := used[name]; !taken {
			return name
		}
	}
}

func isValidName(name string) bool {
	if len(name) != NameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !strings.ContainsRune(alphabet, rune(name[i])) {
			return false
		}
	}
	return true
}
