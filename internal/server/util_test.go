package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/history"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"20261016T142530Z", ".staging-4f1c", "A1._-"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.E(errs.KindUnknownEntry, "op", "", nil), http.StatusNotFound},
		{errs.E(errs.KindNoBackupsFound, "op", "", nil), http.StatusNotFound},
		{errs.E(errs.KindRestoreFailed, "op", "", errs.E(errs.KindNoMatchingEntry, "op", "", nil)), http.StatusNotFound},
		{errs.E(errs.KindRestoreFailed, "op", "", errs.E(errs.KindIOFailure, "op", "", nil)), http.StatusInternalServerError},
		{errs.Invalidf("op", "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", history.ErrNotReadable), http.StatusNotImplemented},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestKindOfInnermost(t *testing.T) {
	err := errs.E(errs.KindRestoreFailed, "restore", "p", fmt.Errorf("copy: %w", errs.E(errs.KindIOFailure, "copy", "/x", nil)))
	if got := kindOf(err); got != string(errs.KindIOFailure) {
		t.Fatalf("kindOf=%q", got)
	}
	if got := kindOf(errors.New("plain")); got != "" {
		t.Fatalf("unclassified should be empty, got %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
