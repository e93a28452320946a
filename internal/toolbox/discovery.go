package toolbox

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Matcher extracts a value from one line of process output.
type Matcher interface {
	Match(line string) (string, bool)
}

// PatternMatcher matches the first occurrence of a regular expression.
type PatternMatcher struct {
	re *regexp.Regexp
}

func NewPatternMatcher(pattern string) (*PatternMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &PatternMatcher{re: re}, nil
}

func (m *PatternMatcher) Match(line string) (string, bool) {
	found := m.re.FindString(line)
	return found, found != ""
}

var quickTunnelPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// hostDiscovery feeds matched hosts into record. record decides whether a
// host is new, so repeated matches are harmless.
type hostDiscovery struct {
	matcher Matcher
	record  func(host string) (bool, error)
	log     zerolog.Logger
}

func (d *hostDiscovery) observe(line string) {
	found, ok := d.matcher.Match(line)
	if !ok {
		return
	}
	host := strings.TrimPrefix(strings.TrimPrefix(found, "https://"), "http://")
	changed, err := d.record(host)
	if err != nil {
		d.log.Error().Err(err).Str("host", host).Msg("tunnel host not saved")
		return
	}
	if changed {
		d.log.Info().Str("host", host).Msg("tunnel host discovered")
	}
}
