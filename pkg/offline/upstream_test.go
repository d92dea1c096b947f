package offline

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestUpstreamRewritesOriginRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "served "+r.URL.Path)
	}))
	defer srv.Close()

	origin, _ := url.Parse("https://mimi.app")
	target, _ := url.Parse(srv.URL)
	up := &Upstream{Origin: origin, Target: target}

	req, _ := http.NewRequest(http.MethodGet, "https://mimi.app/index.html", nil)
	resp, err := up.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if string(body) != "served /index.html" {
		t.Errorf("unexpected body %q", body)
	}
	if resp.Request != req {
		t.Error("response should report the original request")
	}
}
