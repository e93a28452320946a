package toolbox

import (
	"os"
	"path/filepath"

	"github.com/danmuck/toolbox/internal/names"
)

type location int

const (
	inBinDir location = iota
	inDataDir
)

// artifact is a file whose on-disk name comes from the name registry.
type artifact struct {
	kind    names.Kind
	logical string
	ext     string
	where   location
}

func binaryArtifact(def Definition) artifact {
	return artifact{kind: names.KindBinary, logical: def.Binary, where: inBinDir}
}

func configArtifact(def Definition) artifact {
	return artifact{kind: names.KindConfig, logical: string(def.ID), ext: def.ConfigExt, where: inDataDir}
}

func plaintextArtifact(def Definition) artifact {
	return artifact{kind: names.KindConfig, logical: string(def.ID) + "-plain", ext: def.ConfigExt, where: inDataDir}
}

func archiveArtifact(def Definition, kind ArchiveKind) artifact {
	if kind == ArchiveZip {
		return artifact{kind: names.KindZip, logical: string(def.ID), ext: ".zip", where: inBinDir}
	}
	return artifact{kind: names.KindGzip, logical: string(def.ID), ext: ".gz", where: inBinDir}
}

// ownedArtifacts lists every registry key a tool may hold.
func ownedArtifacts(def Definition) []artifact {
	return []artifact{
		binaryArtifact(def),
		configArtifact(def),
		plaintextArtifact(def),
		archiveArtifact(def, ArchiveGzip),
		archiveArtifact(def, ArchiveZip),
	}
}

func (c *Controller) dirFor(a artifact) string {
	if a.where == inBinDir {
		return c.binDir
	}
	return c.dataDir
}

// resolve returns the path of a, assigning a name when needed, and makes
// sure its directory exists.
func (c *Controller) resolve(a artifact) (string, error) {
	name, err := c.names.Resolve(a.kind, a.logical)
	if err != nil {
		return "", err
	}
	dir := c.dirFor(a)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name+a.ext), nil
}

// existingPaths returns the paths of artifacts that already have a name.
func (c *Controller) existingPaths(list ...artifact) []string {
	paths := make([]string, 0, len(list))
	for _, a := range list {
		if name, ok := c.names.Lookup(a.kind, a.logical); ok {
			paths = append(paths, filepath.Join(c.dirFor(a), name+a.ext))
		}
	}
	return paths
}
