package offline

import (
	"net/http"
	"net/url"
	"strings"
)

// Upstream is the network side of a controller running in a server process.
// Requests for the public origin are sent to the upstream host instead; the
// returned response still reports the original request so same-origin checks
// see the URL the client asked for.
type Upstream struct {
	Origin *url.URL
	Target *url.URL
	Base   http.RoundTripper
}

func (u *Upstream) RoundTrip(req *http.Request) (*http.Response, error) {
	base := u.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if u.Target == nil || u.Origin == nil || !strings.EqualFold(req.URL.Host, u.Origin.Host) {
		return base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.URL.Scheme = u.Target.Scheme
	out.URL.Host = u.Target.Host
	if u.Target.Path != "" && u.Target.Path != "/" {
		out.URL.Path = strings.TrimSuffix(u.Target.Path, "/") + req.URL.Path
		out.URL.RawPath = ""
	}
	out.Host = u.Target.Host

	resp, err := base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}
