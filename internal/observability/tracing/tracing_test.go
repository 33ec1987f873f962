package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("payment.order_id", "order_1"),
		attribute.String("webhook.signature", "deadbeef"),
		attribute.String("customer_email", "a@b.c"),
		attribute.String("usage.device_id", "guest_00abc123"),
	)
	if len(attrs) != 2 || string(attrs[0].Key) != "payment.order_id" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if got := attrs[1].Value.AsString(); got != "****c123" {
		t.Fatalf("expected masked device id, got %q", got)
	}
}

func TestWrapHTTPClientRoundTrips(t *testing.T) {
	SetPropagator()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := WrapHTTPClient(srv.Client())
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestGinMiddlewareContinuesInboundTrace(t *testing.T) {
	SetPropagator()
	gin.SetMode(gin.TestMode)

	var sawSpan bool
	engine := gin.New()
	engine.Use(GinMiddleware("/health"))
	engine.GET("/api/usage", func(c *gin.Context) {
		sc := trace.SpanContextFromContext(c.Request.Context())
		sawSpan = sc.TraceID().String() == "4bf92f3577b34da6a3ce929d0e0e4736"
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !sawSpan {
		t.Fatalf("expected handler context to carry the inbound trace id")
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("x-honeycomb-team=abc, broken ,=skip,dataset = companion")
	if len(headers) != 2 || headers["x-honeycomb-team"] != "abc" || headers["dataset"] != "companion" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false}, zap.NewNop())
	if err != nil || provider != nil {
		t.Fatalf("expected nil provider, got %v (%v)", provider, err)
	}
	if exporterProtocol("HTTP/protobuf") != "http" || exporterProtocol("") != "grpc" {
		t.Fatalf("unexpected protocol normalization")
	}
}
