package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/danmuck/tlvlink/internal/auth"
	"github.com/danmuck/tlvlink/internal/testutil/testlog"
)

type fakeConn struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type fakeController struct {
	conns []fakeConn
	fail  error
	hit   []string
}

func (f *fakeController) Connections() []fakeConn { return f.conns }

func (f *fakeController) Disconnect(ctx context.Context, id string) error {
	f.hit = append(f.hit, id)
	if f.fail != nil {
		return f.fail
	}
	for _, c := range f.conns {
		if c.ID == id {
			return nil
		}
	}
	return ErrUnknownConnection
}

func serve(t *testing.T, a *Admin[fakeConn], method, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(header) > 0 {
		req.Header.Set("Authorization", header[0])
	}
	rr := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{conns: []fakeConn{{ID: "c1", Key: "alice"}}}
	a := NewAdmin[fakeConn](AdminConfig{Node: "node-a"}, ctl)

	rr := serve(t, a, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status %d", rr.Code)
	}

	rr = serve(t, a, http.MethodGet, "/connections")
	if rr.Code != http.StatusOK {
		t.Fatalf("connections status %d", rr.Code)
	}
	var body struct {
		Count       int        `json:"count"`
		Connections []fakeConn `json:"connections"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 || body.Connections[0].Key != "alice" {
		t.Fatalf("unexpected connections body: %+v", body)
	}

	rr = serve(t, a, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "tlvlink_http_requests_total") {
		t.Fatalf("metrics should expose the http counter, status=%d", rr.Code)
	}
}

func TestAdminDisconnect(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{conns: []fakeConn{{ID: "c1"}}}
	a := NewAdmin[fakeConn](AdminConfig{
		Node:        "node-a",
		CORSOrigins: []string{"http://localhost:3000"},
	}, ctl)

	if rr := serve(t, a, http.MethodPost, "/connections/c1/disconnect"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr := serve(t, a, http.MethodPost, "/connections/nope/disconnect"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	ctl.fail = errors.New("transport down")
	if rr := serve(t, a, http.MethodPost, "/connections/c1/disconnect"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if len(ctl.hit) != 3 {
		t.Fatalf("expected three disconnect calls, got %v", ctl.hit)
	}
}

func TestAdminDisconnectRequiresToken(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{conns: []fakeConn{{ID: "c1"}}}
	a := NewAdmin[fakeConn](AdminConfig{
		Node: "node-a",
		Auth: auth.StaticToken{Token: "s3cret"},
	}, ctl)

	if rr := serve(t, a, http.MethodPost, "/connections/c1/disconnect"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(ctl.hit) != 0 {
		t.Fatalf("unauthorized request reached the controller")
	}
	if rr := serve(t, a, http.MethodPost, "/connections/c1/disconnect", "Bearer s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := serve(t, a, http.MethodGet, "/connections"); rr.Code != http.StatusOK {
		t.Fatalf("read routes stay open, got %d", rr.Code)
	}
}

func TestAdminServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin[fakeConn](AdminConfig{Node: "node-a"}, &fakeController{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestAdminMiddlewareUsesRoutePatterns(t *testing.T) {
	testlog.Start(t)
	node := "node-routes"
	ctl := &fakeController{conns: []fakeConn{{ID: "c1"}}}
	a := NewAdmin[fakeConn](AdminConfig{Node: node}, ctl)

	serve(t, a, http.MethodGet, "/no/such/path")
	serve(t, a, http.MethodGet, "/another/missing")
	serve(t, a, http.MethodPost, "/connections/c1/disconnect")

	if got := testutil.ToFloat64(httpRequests.WithLabelValues(node, "GET", UnmatchedRoute, "404")); got != 2 {
		t.Fatalf("expected unmatched paths folded into one label, got %v", got)
	}
	route := "/connections/:id/disconnect"
	if got := testutil.ToFloat64(httpRequests.WithLabelValues(node, "POST", route, "200")); got != 1 {
		t.Fatalf("expected disconnect counted under its pattern, got %v", got)
	}
}

func TestAdminRequestLoggerTagsConnection(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(AdminRequestLogger(zerolog.New(&buf)))
	r.POST("/connections/:id/disconnect", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connections/c7/disconnect", nil))

	line := buf.String()
	for _, want := range []string{`"conn":"c7"`, `"route":"/connections/:id/disconnect"`, `"status":404`, `"message":"admin.request"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}
