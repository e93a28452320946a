package toolbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/toolbox/internal/fetch"
	"github.com/danmuck/toolbox/internal/settings"
)

var ErrInvalidDefinition = errors.New("toolbox: invalid tool definition")

// ArchiveKind is the packaging of a release asset.
type ArchiveKind string

const (
	ArchiveRaw  ArchiveKind = "raw"
	ArchiveGzip ArchiveKind = "gzip"
	ArchiveZip  ArchiveKind = "zip"
)

// Source is one downloadable release asset. URL may contain {arch}.
type Source struct {
	URL     string      `json:"url"`
	Archive ArchiveKind `json:"archive"`
	Member  string      `json:"member,omitempty"`
}

// Resolve substitutes the platform architecture into the URL template.
func (s Source) Resolve(p fetch.Platform) string {
	return strings.ReplaceAll(s.URL, "{arch}", p.Arch)
}

// Definition is the static description of a managed tool.
type Definition struct {
	ID          settings.ToolID   `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Binary      string            `json:"binary"`
	ConfigExt   string            `json:"config_ext"`
	Sources     map[string]Source `json:"sources"`
}

// DefaultChannel keys the source of tools without release channels.
const DefaultChannel = "latest"

// DefaultDefinitions returns the upstream release locations of every tool.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:          settings.Cloudflared,
			Name:        "Cloudflare Tunnel",
			Description: "Reverse tunnel client exposing a local port.",
			Binary:      "cloudflared",
			Sources: map[string]Source{
				DefaultChannel: {
					URL:     "https://github.com/cloudflare/cloudflared/releases/latest/download/cloudflared-linux-{arch}",
					Archive: ArchiveRaw,
				},
			},
		},
		{
			ID:          settings.Nezha,
			Name:        "Nezha Agent",
			Description: "Nezha monitoring agent.",
			Binary:      "nezha-agent",
			ConfigExt:   ".yml",
			Sources: map[string]Source{
				string(settings.NezhaV0): {
					URL:     "https://github.com/naiba/nezha/releases/latest/download/nezha-agent_linux_{arch}.gz",
					Archive: ArchiveGzip,
				},
				string(settings.NezhaV1): {
					URL:     "https://github.com/nezhahq/agent/releases/latest/download/nezha-agent_linux_{arch}.zip",
					Archive: ArchiveZip,
					Member:  "nezha-agent",
				},
			},
		},
		{
			ID:          settings.Komari,
			Name:        "Komari Agent",
			Description: "Komari monitoring agent.",
			Binary:      "komari-agent",
			ConfigExt:   ".json",
			Sources: map[string]Source{
				DefaultChannel: {
					URL:     "https://github.com/komari-monitor/komari-agent/releases/latest/download/komari-agent-linux-{arch}",
					Archive: ArchiveRaw,
				},
			},
		},
	}
}

// ValidateDefinition checks required fields, id membership, and sources.
func ValidateDefinition(def Definition) error {
	if _, err := settings.ParseToolID(string(def.ID)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if strings.TrimSpace(def.Name) == "" || strings.TrimSpace(def.Description) == "" {
		return fmt.Errorf("%w: %s: name and description are required", ErrInvalidDefinition, def.ID)
	}
	if !isValidName(def.Binary) {
		return fmt.Errorf("%w: %s: invalid binary name %q", ErrInvalidDefinition, def.ID, def.Binary)
	}
	if def.ConfigExt != "" && (!strings.HasPrefix(def.ConfigExt, ".") || strings.ContainsAny(def.ConfigExt, `/\`)) {
		return fmt.Errorf("%w: %s: invalid config extension %q", ErrInvalidDefinition, def.ID, def.ConfigExt)
	}
	if len(def.Sources) == 0 {
		return fmt.Errorf("%w: %s: no sources", ErrInvalidDefinition, def.ID)
	}
	for channel, src := range def.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("%w: %s/%s: empty url", ErrInvalidDefinition, def.ID, channel)
		}
		switch src.Archive {
		case ArchiveRaw, ArchiveGzip:
		case ArchiveZip:
			if strings.TrimSpace(src.Member) == "" {
				return fmt.Errorf("%w: %s/%s: zip source needs a member", ErrInvalidDefinition, def.ID, channel)
			}
		default:
			return fmt.Errorf("%w: %s/%s: unknown archive kind %q", ErrInvalidDefinition, def.ID, channel, src.Archive)
		}
	}
	return nil
}

// Catalog is the fixed set of tool definitions, one per tool id.
type Catalog struct {
	items map[settings.ToolID]Definition
}

// NewCatalog validates defs and requires exactly one definition per tool id.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{items: make(map[settings.ToolID]Definition, len(defs))}
	for _, def := range defs {
		if err := ValidateDefinition(def); err != nil {
			return nil, err
		}
		if _, dup := c.items[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidDefinition, def.ID)
		}
		c.items[def.ID] = def
	}
	for _, id := range settings.AllTools() {
		if _, ok := c.items[id]; !ok {
			return nil, fmt.Errorf("%w: missing definition for %s", ErrInvalidDefinition, id)
		}
	}
	return c, nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id settings.ToolID) (Definition, bool) {
	def, ok := c.items[id]
	return def, ok
}

// List returns definitions ordered by id.
func (c *Catalog) List() []Definition {
	list := make([]Definition, 0, len(c.items))
	for _, def := range c.items {
		list = append(list, def)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func isValidName(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
