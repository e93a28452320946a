package settings

import "fmt"

// ToolID is the closed set of managed tools.
type ToolID string

const (
	Cloudflared ToolID = "cloudflared"
	Nezha       ToolID = "nezha"
	Komari      ToolID = "komari"
)

// AllTools lists every tool id in display order.
func AllTools() []ToolID {
	return []ToolID{Cloudflared, Nezha, Komari}
}

// ParseToolID validates raw against the closed set.
func ParseToolID(raw string) (ToolID, error) {
	for _, id := range AllTools() {
		if string(id) == raw {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, raw)
}

type TunnelMode string

const (
	TunnelFixed TunnelMode = "fixed"
	TunnelAuto  TunnelMode = "auto"
)

type NezhaVersion string

const (
	NezhaV0 NezhaVersion = "v0"
	NezhaV1 NezhaVersion = "v1"
)

// Common holds the switches every tool carries.
type Common struct {
	Enabled   bool `json:"enabled"`
	AutoStart bool `json:"autoStart"`
}

// TunnelConfig configures the cloudflared tunnel client.
type TunnelConfig struct {
	Common
	Mode      TunnelMode `json:"mode"`
	Token     string     `json:"token"`
	Protocol  string     `json:"protocol"`
	LocalPort int        `json:"localPort"`
	TunnelURL string     `json:"tunnelUrl,omitempty"`
}

// NezhaConfig configures the nezha monitoring agent.
type NezhaConfig struct {
	Common
	Version               NezhaVersion `json:"version"`
	Server                string       `json:"server"`
	Key                   string       `json:"key"`
	TLS                   bool         `json:"tls"`
	Insecure              bool         `json:"insecure"`
	GPU                   bool         `json:"gpu"`
	Temperature           bool         `json:"temperature"`
	UseIPv6               bool         `json:"useIPv6"`
	DisableAutoUpdate     bool         `json:"disableAutoUpdate"`
	DisableCommandExecute bool         `json:"disableCommandExecute"`
	UUID                  string       `json:"uuid"`
}

// KomariConfig configures the komari monitoring agent.
type KomariConfig struct {
	Common
	Server            string `json:"server"`
	Key               string `json:"key"`
	Insecure          bool   `json:"insecure"`
	GPU               bool   `json:"gpu"`
	DisableAutoUpdate bool   `json:"disableAutoUpdate"`
}

// Tools is the per-tool configuration tree.
type Tools struct {
	Cloudflared TunnelConfig `json:"cloudflared"`
	Nezha       NezhaConfig  `json:"nezha"`
	Komari      KomariConfig `json:"komari"`
}

// Document is the persisted configuration.
type Document struct {
	Tools Tools `json:"tools"`
}

// Common returns the shared switches for id.
func (d Document) Common(id ToolID) (Common, bool) {
	switch id {
	case Cloudflared:
		return d.Tools.Cloudflared.Common, true
	case Nezha:
		return d.Tools.Nezha.Common, true
	case Komari:
		return d.Tools.Komari.Common, true
	}
	return Common{}, false
}

func DefaultTunnel() TunnelConfig {
	return TunnelConfig{
		Mode:      TunnelFixed,
		Protocol:  "http",
		LocalPort: 8001,
	}
}

func DefaultNezha() NezhaConfig {
	return NezhaConfig{
		Version:           NezhaV1,
		TLS:               true,
		DisableAutoUpdate: true,
	}
}

func DefaultKomari() KomariConfig {
	return KomariConfig{
		DisableAutoUpdate: true,
	}
}

// Defaults returns the factory configuration.
func Defaults() Document {
	return Document{Tools: Tools{
		Cloudflared: DefaultTunnel(),
		Nezha:       DefaultNezha(),
		Komari:      DefaultKomari(),
	}}
}

// reset restores id to factory defaults.
func (d *Document) reset(id ToolID) error {
	switch id {
	case Cloudflared:
		d.Tools.Cloudflared = DefaultTunnel()
	case Nezha:
		d.Tools.Nezha = DefaultNezha()
	case Komari:
		d.Tools.Komari = DefaultKomari()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	return nil
}
