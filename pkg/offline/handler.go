package offline

import (
	"io"
	"net/http"
)

// forwarded lists the request headers that affect the fetch policy or the
// upstream answer.
var forwarded = []string{
	"Accept",
	"Accept-Language",
	"User-Agent",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Dest",
	"Sec-Fetch-Site",
	"If-None-Match",
	"If-Modified-Since",
}

// Handler serves incoming requests for the app shell through the controller.
// The incoming path is resolved against the controller's origin, so the
// controller sees exactly what a browser would have asked for.
func (c *Controller) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := *c.origin
		target.Path = r.URL.Path
		target.RawPath = r.URL.RawPath
		target.RawQuery = r.URL.RawQuery
		req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, h := range forwarded {
			if v := r.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}

		resp, err := c.RoundTrip(req)
		if err != nil {
			c.logger.Warnf("upstream %s %s: %v", r.Method, target.String(), err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			c.logger.Debugf("write response %s: %v", target.String(), err)
		}
	})
}
