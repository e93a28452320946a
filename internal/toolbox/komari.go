package toolbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/toolbox/internal/settings"
)

type komariDriver struct{}

type komariAgentConfig struct {
	Endpoint          string `json:"endpoint"`
	Token             string `json:"token"`
	IgnoreUnsafeCert  bool   `json:"ignore_unsafe_cert"`
	GPU               bool   `json:"gpu"`
	DisableAutoUpdate bool   `json:"disable_auto_update"`
}

func (komariDriver) validate(doc settings.Document) error {
	cfg := doc.Tools.Komari
	if strings.TrimSpace(cfg.Server) == "" {
		return missing(settings.Komari, "server")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return missing(settings.Komari, "key")
	}
	return nil
}

func (komariDriver) source(def Definition, _ settings.Document) (Source, error) {
	return defaultSource(def)
}

func (komariDriver) prepare(c *Controller, def Definition, doc settings.Document) (launch, error) {
	cfg := doc.Tools.Komari
	rendered, err := json.MarshalIndent(komariAgentConfig{
		Endpoint:          strings.TrimSpace(cfg.Server),
		Token:             cfg.Key,
		IgnoreUnsafeCert:  cfg.Insecure,
		GPU:               cfg.GPU,
		DisableAutoUpdate: cfg.DisableAutoUpdate,
	}, "", "  ")
	if err != nil {
		return launch{}, fmt.Errorf("toolbox: render komari config: %w", err)
	}
	plainPath, err := c.writeRuntimeConfig(def, rendered)
	if err != nil {
		return launch{}, err
	}
	return launch{args: []string{"--config", plainPath}, plaintext: plainPath}, nil
}
