package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/history"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates backup names before they reach the filesystem.
// Allowed characters: A-Z a-z 0-9 . _ - and no consecutive dots forming "..".
func isSafeName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// statusFor maps a classified error to an HTTP status. Kinds are checked
// through the whole chain, so a restore failure caused by a missing backup
// is still a 404.
func statusFor(err error) int {
	switch {
	case errors.Is(err, history.ErrNotReadable):
		return http.StatusNotImplemented
	case errs.Is(err, errs.KindUnknownEntry),
		errs.Is(err, errs.KindBackupNotFound),
		errs.Is(err, errs.KindNoBackupsFound),
		errs.Is(err, errs.KindNoMatchingEntry),
		errs.Is(err, errs.KindPathNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.KindInvalidConfig):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// kindOf returns the innermost kind in err's chain, which names the cause.
func kindOf(err error) string {
	var k errs.Kind
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ce, ok := e.(*errs.Error); ok {
			k = ce.Kind
		}
	}
	return string(k)
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error(), Kind: kindOf(err)})
}
