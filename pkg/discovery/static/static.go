package static

import (
	"strings"

	"github.com/amirimatin/go-raftclient/pkg/discovery"
	"github.com/amirimatin/go-raftclient/pkg/transport"
)

type staticMembers struct {
	members []string
}

func (s *staticMembers) Members() []string { return append([]string(nil), s.members...) }

// New returns a Discovery over a fixed member set. Entries that do not parse
// as host:port are dropped, as are duplicates; order of first appearance is
// preserved so the session's register fall-through stays deterministic.
func New(members ...string) discovery.Discovery {
	cleaned := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, v := range members {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		addr, err := transport.ParseAddress(v)
		if err != nil {
			continue
		}
		key := addr.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return &staticMembers{members: cleaned}
}

// Parse converts a comma-separated list into []string members.
func Parse(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
