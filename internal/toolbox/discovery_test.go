package toolbox

import (
	"errors"
	"testing"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/testutil/testlog"
)

func TestQuickTunnelPattern(t *testing.T) {
	testlog.Start(t)
	m := &PatternMatcher{re: quickTunnelPattern}
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{line: "INF |  https://quiet-river-1234.trycloudflare.com  |", want: "https://quiet-river-1234.trycloudflare.com", ok: true},
		{line: "url=https://a-b-c.trycloudflare.com/path", want: "https://a-b-c.trycloudflare.com", ok: true},
		{line: "Requesting new quick Tunnel on trycloudflare.com...", ok: false},
		{line: "https://UPPER.trycloudflare.com", ok: false},
		{line: "http://plain.trycloudflare.com", ok: false},
	}
	for _, tc := range cases {
		got, ok := m.Match(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Match(%q) = %q,%v want %q,%v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewPatternMatcherRejectsBadPattern(t *testing.T) {
	testlog.Start(t)
	if _, err := NewPatternMatcher("("); err == nil {
		t.Fatalf("expected compile error")
	}
	m, err := NewPatternMatcher(`host=(\S+)`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got, ok := m.Match("conn host=edge.example.com up"); !ok || got != "host=edge.example.com" {
		t.Fatalf("unexpected match %q %v", got, ok)
	}
}

func TestHostDiscoveryStripsSchemeAndTolerantOfErrors(t *testing.T) {
	testlog.Start(t)
	var recorded []string
	fail := false
	d := &hostDiscovery{
		matcher: &PatternMatcher{re: quickTunnelPattern},
		record: func(host string) (bool, error) {
			if fail {
				return false, errors.New("disk full")
			}
			recorded = append(recorded, host)
			return len(recorded) == 1, nil
		},
		log: logging.For("test"),
	}
	d.observe("nothing to see")
	d.observe("INF https://bright-lake-9.trycloudflare.com")
	d.observe("INF https://bright-lake-9.trycloudflare.com")
	fail = true
	d.observe("INF https://bright-lake-9.trycloudflare.com")

	if len(recorded) != 2 || recorded[0] != "bright-lake-9.trycloudflare.com" {
		t.Fatalf("unexpected recorded hosts %v", recorded)
	}
}
