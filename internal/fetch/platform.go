package fetch

import (
	"errors"
	"fmt"
	"runtime"
)

var ErrUnsupportedPlatform = errors.New("fetch: unsupported platform")

// Platform names the host in vendor release terms.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// DetectPlatform resolves the running host.
func DetectPlatform() (Platform, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH)
}

// ResolvePlatform maps a GOOS/GOARCH pair onto release asset naming. Agent
// releases are Linux only.
func ResolvePlatform(goos, goarch string) (Platform, error) {
	if goos != "linux" {
		return Platform{}, fmt.Errorf("%w: %s (linux only)", ErrUnsupportedPlatform, goos)
	}
	switch goarch {
	case "amd64", "arm64", "arm":
		return Platform{OS: goos, Arch: goarch}, nil
	default:
		return Platform{}, fmt.Errorf("%w: architecture %s", ErrUnsupportedPlatform, goarch)
	}
}
