package toolbox

import (
	"fmt"
	"net"
	"strings"

	"github.com/danmuck/toolbox/internal/settings"
	"gopkg.in/yaml.v3"
)

type nezhaDriver struct{}

// nezhaAgentConfig is the v1 agent's native YAML schema.
type nezhaAgentConfig struct {
	ClientSecret          string `yaml:"client_secret"`
	Debug                 bool   `yaml:"debug"`
	DisableAutoUpdate     bool   `yaml:"disable_auto_update"`
	DisableCommandExecute bool   `yaml:"disable_command_execute"`
	DisableForceUpdate    bool   `yaml:"disable_force_update"`
	DisableNat            bool   `yaml:"disable_nat"`
	DisableSendQuery      bool   `yaml:"disable_send_query"`
	GPU                   bool   `yaml:"gpu"`
	InsecureTLS           bool   `yaml:"insecure_tls"`
	IPReportPeriod        int    `yaml:"ip_report_period"`
	ReportDelay           int    `yaml:"report_delay"`
	SelfUpdatePeriod      int    `yaml:"self_update_period"`
	Server                string `yaml:"server"`
	SkipConnectionCount   bool   `yaml:"skip_connection_count"`
	SkipProcsCount        bool   `yaml:"skip_procs_count"`
	Temperature           bool   `yaml:"temperature"`
	TLS                   bool   `yaml:"tls"`
	UseGiteeToUpgrade     bool   `yaml:"use_gitee_to_upgrade"`
	UseIPv6CountryCode    bool   `yaml:"use_ipv6_country_code"`
	UUID                  string `yaml:"uuid"`
}

func (nezhaDriver) validate(doc settings.Document) error {
	cfg := doc.Tools.Nezha
	if strings.TrimSpace(cfg.Server) == "" {
		return missing(settings.Nezha, "server")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return missing(settings.Nezha, "key")
	}
	return nil
}

func (nezhaDriver) source(def Definition, doc settings.Document) (Source, error) {
	version := doc.Tools.Nezha.Version
	src, ok := def.Sources[string(version)]
	if !ok {
		return Source{}, fmt.Errorf("%w: nezha version %q", ErrMissingConfiguration, version)
	}
	return src, nil
}

func (nezhaDriver) prepare(c *Controller, def Definition, doc settings.Document) (launch, error) {
	cfg := doc.Tools.Nezha
	if cfg.Version == settings.NezhaV0 {
		args := []string{"-s", cfg.Server, "-p", cfg.Key}
		if cfg.TLS {
			args = append(args, "--tls")
		}
		return launch{args: args}, nil
	}

	clientID := cfg.UUID
	if clientID == "" {
		id, err := c.store.SetNezhaUUID(c.newID())
		if err != nil {
			return launch{}, err
		}
		clientID = id
		c.log.Info().Str("tool", string(def.ID)).Str("uuid", clientID).Msg("client id generated")
	}

	rendered, err := renderNezhaConfig(cfg, clientID)
	if err != nil {
		return launch{}, err
	}
	plainPath, err := c.writeRuntimeConfig(def, rendered)
	if err != nil {
		return launch{}, err
	}
	return launch{args: []string{"-c", plainPath}, plaintext: plainPath}, nil
}

func renderNezhaConfig(cfg settings.NezhaConfig, clientID string) ([]byte, error) {
	server, tls := normalizeNezhaServer(cfg.Server, cfg.TLS)
	out, err := yaml.Marshal(nezhaAgentConfig{
		ClientSecret:          cfg.Key,
		Debug:                 true,
		DisableAutoUpdate:     cfg.DisableAutoUpdate,
		DisableCommandExecute: cfg.DisableCommandExecute,
		DisableForceUpdate:    true,
		GPU:                   cfg.GPU,
		InsecureTLS:           cfg.Insecure,
		IPReportPeriod:        1800,
		ReportDelay:           1,
		Server:                server,
		Temperature:           cfg.Temperature,
		TLS:                   tls,
		UseIPv6CountryCode:    cfg.UseIPv6,
		UUID:                  clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("toolbox: render nezha config: %w", err)
	}
	return out, nil
}

// normalizeNezhaServer strips a URL scheme, which then decides TLS, and
// appends the scheme's default port when none is given.
func normalizeNezhaServer(server string, tls bool) (string, bool) {
	server = strings.TrimSpace(server)
	switch {
	case strings.HasPrefix(server, "https://"):
		server, tls = strings.TrimPrefix(server, "https://"), true
	case strings.HasPrefix(server, "http://"):
		server, tls = strings.TrimPrefix(server, "http://"), false
	}
	server = strings.TrimRight(server, "/")
	if _, _, err := net.SplitHostPort(server); err != nil {
		port := "80"
		if tls {
			port = "443"
		}
		server = net.JoinHostPort(strings.Trim(server, "[]"), port)
	}
	return server, tls
}
