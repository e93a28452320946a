package toolbox

import (
	"fmt"
	"strings"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/settings"
)

const tunnelTokenEnv = "TUNNEL_TOKEN"

type tunnelDriver struct{}

func (tunnelDriver) validate(doc settings.Document) error {
	cfg := doc.Tools.Cloudflared
	switch cfg.Mode {
	case settings.TunnelAuto:
		if cfg.LocalPort <= 0 || cfg.LocalPort > 65535 {
			return missing(settings.Cloudflared, "localPort")
		}
	default:
		if strings.TrimSpace(cfg.Token) == "" {
			return missing(settings.Cloudflared, "token")
		}
	}
	return nil
}

func (tunnelDriver) source(def Definition, _ settings.Document) (Source, error) {
	return defaultSource(def)
}

func (tunnelDriver) prepare(c *Controller, def Definition, doc settings.Document) (launch, error) {
	cfg := doc.Tools.Cloudflared
	if cfg.Mode == settings.TunnelAuto {
		protocol := cfg.Protocol
		if protocol == "" {
			protocol = "http"
		}
		discovery := &hostDiscovery{
			matcher: &PatternMatcher{re: quickTunnelPattern},
			record:  c.store.SetTunnelURL,
			log:     logging.For(string(def.ID)),
		}
		return launch{
			args: []string{
				"tunnel", "--no-autoupdate",
				"--url", fmt.Sprintf("%s://localhost:%d", protocol, cfg.LocalPort),
			},
			onLine: discovery.observe,
		}, nil
	}

	// The token is kept only in its encrypted file and handed over by env.
	cfgPath, err := c.resolve(configArtifact(def))
	if err != nil {
		return launch{}, err
	}
	if err := c.codec.WriteFile(cfgPath, []byte(cfg.Token), 0o600); err != nil {
		return launch{}, fmt.Errorf("toolbox: write tunnel token: %w", err)
	}
	token, err := c.codec.ReadFile(cfgPath)
	if err != nil {
		return launch{}, fmt.Errorf("toolbox: read tunnel token: %w", err)
	}
	return launch{
		args: []string{"tunnel", "--no-autoupdate", "run"},
		env:  map[string]string{tunnelTokenEnv: strings.TrimSpace(string(token))},
	}, nil
}
