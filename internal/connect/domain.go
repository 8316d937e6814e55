package connect

import (
	"net/url"
	"strings"
)

// Requester carries the URLs the browser reports for an inbound message.
// Depending on where the message originated some of them are empty.
type Requester struct {
	TabURL    string
	SenderURL string
	FrameURL  string
}

// Domain extracts the gating key for a requester. Tab URL wins over sender URL
// over frame URL; the first one with a usable hostname decides.
func (r Requester) Domain() string {
	for _, raw := range []string{r.TabURL, r.SenderURL, r.FrameURL} {
		if d := NormalizeDomain(raw); d != "" {
			return d
		}
	}
	return ""
}

// NormalizeDomain lower-cases and reduces a URL or bare hostname to its
// hostname. Invalid input normalizes to "".
func NormalizeDomain(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if strings.Contains(in, "://") {
		u, err := url.Parse(in)
		if err != nil || u.Hostname() == "" {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	// bare hostname, possibly with port or path fragments
	if i := strings.IndexAny(in, "/:?#"); i >= 0 {
		in = in[:i]
	}
	return strings.ToLower(in)
}
