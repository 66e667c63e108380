package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func runHealth(t *testing.T, p Pinger, stats func() *PoolStats) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := healthHandler(p, stats)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	stats := func() *PoolStats {
		return &PoolStats{TotalConns: 3, IdleConns: 2, AcquiredConns: 1, MaxConns: 10, AcquireCount: 40, AcquireDuration: "12ms"}
	}
	rec, body := runHealth(t, fakePinger{}, stats)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", body.Status)
	}
	if body.Pool == nil || body.Pool.MaxConns != 10 || body.Pool.AcquireDuration != "12ms" {
		t.Errorf("unexpected pool stats: %+v", body.Pool)
	}
	if body.Error != "" {
		t.Errorf("expected no error, got %q", body.Error)
	}
}

func TestHealthHandler_PingFails(t *testing.T) {
	rec, body := runHealth(t, fakePinger{err: errors.New("connection refused")}, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected status unhealthy, got %q", body.Status)
	}
	if body.Error != "connection refused" {
		t.Errorf("expected ping error in body, got %q", body.Error)
	}
	if body.Pool != nil {
		t.Errorf("expected no pool stats, got %+v", body.Pool)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	if _, err := NewPool(context.Background(), PoolConfig{}); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewPool(context.Background(), PoolConfig{URL: "postgres://%zz"}); err == nil {
		t.Error("expected error for unparsable url")
	}
}
