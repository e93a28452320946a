package toolbox

import (
	"fmt"
	"os"

	"github.com/danmuck/toolbox/internal/settings"
	"github.com/danmuck/toolbox/internal/supervisor"
)

// driver carries the tool-specific part of the lifecycle.
type driver interface {
	// validate rejects a document missing fields start needs.
	validate(doc settings.Document) error
	// source picks the release asset for the configured channel.
	source(def Definition, doc settings.Document) (Source, error)
	// prepare renders runtime config and returns how to launch the tool.
	prepare(c *Controller, def Definition, doc settings.Document) (launch, error)
}

type launch struct {
	args      []string
	env       map[string]string
	onLine    supervisor.LineFunc
	plaintext string
}

func missing(id settings.ToolID, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingConfiguration, id, field)
}

func defaultSource(def Definition) (Source, error) {
	src, ok := def.Sources[DefaultChannel]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s has no %s source", ErrInvalidDefinition, def.ID, DefaultChannel)
	}
	return src, nil
}

// writeRuntimeConfig stores rendered config encrypted, then writes the
// plaintext companion the child reads from the decrypted copy. It returns
// the plaintext path.
func (c *Controller) writeRuntimeConfig(def Definition, rendered []byte) (string, error) {
	cfgPath, err := c.resolve(configArtifact(def))
	if err != nil {
		return "", err
	}
	if err := c.codec.WriteFile(cfgPath, rendered, 0o600); err != nil {
		return "", fmt.Errorf("toolbox: write %s config: %w", def.ID, err)
	}
	plain, err := c.codec.ReadFile(cfgPath)
	if err != nil {
		return "", fmt.Errorf("toolbox: read back %s config: %w", def.ID, err)
	}
	plainPath, err := c.resolve(plaintextArtifact(def))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(plainPath, plain, 0o600); err != nil {
		return "", fmt.Errorf("toolbox: write %s plaintext config: %w", def.ID, err)
	}
	return plainPath, nil
}
