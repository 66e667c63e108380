package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		valid bool
	}{
		{"1M", 1 << 20, true},
		{"25M", 25 << 20, true},
		{"25mb", 25 << 20, true},
		{"512K", 512 << 10, true},
		{"1G", 1 << 30, true},
		{"1024", 1024, true},
		{"", 1 << 20, false},
		{"invalid", 1 << 20, false},
		{"-5M", 1 << 20, false},
		{"0", 1 << 20, false},
	}
	for _, tt := range tests {
		if got := ParseSize(tt.input); got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
		if got := ValidSize(tt.input); got != tt.valid {
			t.Errorf("ValidSize(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func postContext(body []byte) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/oread", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	c, _ := postContext([]byte(`{"demographics":{}}`))

	called := false
	err := BodyLimit("1M")(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if len(b) == 0 {
			t.Error("expected non-empty body")
		}
		called = true
		return nil
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_ExactLimit(t *testing.T) {
	c, _ := postContext(bytes.Repeat([]byte("x"), 1024))
	c.Request().ContentLength = -1

	err := BodyLimit("1K")(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if len(b) != 1024 {
			t.Errorf("expected 1024 bytes, got %d", len(b))
		}
		return err
	})(c)
	if err != nil {
		t.Fatalf("unexpected error at exact limit: %v", err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	c, rec := postContext(bytes.Repeat([]byte("x"), 2048))
	c.Set(RequestIDKey, "req-1")

	err := BodyLimit("1K")(func(echo.Context) error {
		t.Error("handler should not be called when body exceeds limit")
		return nil
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Error == "" || body.RequestID != "req-1" {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/import/history")

	called := false
	BodyLimit("1")(func(echo.Context) error {
		called = true
		return nil
	})(c)
	if !called {
		t.Error("expected handler to be called for GET with no body")
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	c, _ := postContext(bytes.Repeat([]byte("a"), 1024))
	c.Request().ContentLength = -1

	err := BodyLimit("512")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", httpErr.Code)
	}
}
