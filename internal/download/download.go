// Package download serves the purchased template archives. Every request
// walks one pipeline: rate limit, token lookup, sale status, expiry, then
// archive streaming, and every attempt lands in the audit log with the
// outcome it hit.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/launchkit/template-store/internal/archive"
	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/ratelimit"
	"gorm.io/gorm"
)

type Gateway struct {
	db      *database.DB
	limiter ratelimit.Limiter
	builder *archive.Builder
	policy  ratelimit.Policy

	now func() time.Time
}

func New(db *database.DB, limiter ratelimit.Limiter, builder *archive.Builder, policy ratelimit.Policy) *Gateway {
	return &Gateway{
		db:      db,
		limiter: limiter,
		builder: builder,
		policy:  policy,
		now:     time.Now,
	}
}

// ServeHTTP handles GET /download?token=...&format=zip|tar. Invalid and
// expired tokens are indistinguishable from the caller's side beyond the
// status code; the response body never explains which check failed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = archive.FormatZip
	}

	audit := &database.DownloadAudit{
		DownloadToken: token,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
		Format:        format,
	}

	defer func() {
		if rec := recover(); rec != nil {
			audit.Status = database.AuditStatusError
			audit.Reason = fmt.Sprintf("panic: %v", rec)
			g.record(audit)
			slog.Error("Download handler panic", "token", token, "panic", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()

	if token == "" {
		audit.Status = database.AuditStatusInvalidToken
		audit.Reason = "missing token"
		g.record(audit)
		http.Error(w, "Missing download token", http.StatusBadRequest)
		return
	}
	if !archive.ValidFormat(format) {
		audit.Status = database.AuditStatusError
		audit.Reason = "invalid format " + format
		g.record(audit)
		http.Error(w, "Invalid format, expected zip or tar", http.StatusBadRequest)
		return
	}

	limitID := audit.IPAddress + ":" + token
	res, err := g.limiter.Check(r.Context(), limitID, g.policy)
	if err != nil {
		slog.Error("Rate limiter check failed", "error", err)
	} else if !res.Allowed {
		audit.Status = database.AuditStatusRateLimit
		audit.Reason = "rate limit exceeded"
		g.record(audit)
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		http.Error(w, "Too many download attempts, try again later", http.StatusTooManyRequests)
		return
	}

	access, status, reason, httpStatus := g.authorize(r.Context(), token)
	if access == nil {
		audit.Status = status
		audit.Reason = reason
		g.record(audit)
		http.Error(w, "Download not available", httpStatus)
		return
	}
	audit.SaleID = &access.SaleID
	audit.Package = access.Package

	// Build into memory first so a mid-archive failure can still return a
	// clean error response and an exact Content-Length.
	var buf bytes.Buffer
	count, err := g.builder.Build(&buf, access.Package, format)
	if err != nil {
		audit.Status = database.AuditStatusError
		audit.Reason = err.Error()
		g.record(audit)
		slog.Error("Archive build failed", "package", access.Package, "format", format, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	audit.Status = database.AuditStatusSuccess
	g.record(audit)
	slog.Info("Download served",
		"package", access.Package,
		"format", format,
		"files", count,
		"bytes", buf.Len(),
		"ip", audit.IPAddress)

	w.Header().Set("Content-Type", archive.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+archive.FileName(access.Package, format)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// authorize resolves a download token to its access record, or reports
// the audit status, reason and HTTP status of the failing check.
func (g *Gateway) authorize(ctx context.Context, token string) (*database.CustomerAccess, string, string, int) {
	var access database.CustomerAccess
	err := g.db.WithContext(ctx).Where("download_token = ?", token).First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, database.AuditStatusInvalidToken, "unknown token", http.StatusNotFound
		}
		return nil, database.AuditStatusError, err.Error(), http.StatusInternalServerError
	}

	if access.AccessExpiresAt != nil && g.now().After(*access.AccessExpiresAt) {
		return nil, database.AuditStatusExpired, "access expired", http.StatusForbidden
	}

	// The sale status is rechecked on every download so a refunded or
	// reverted sale cuts access off immediately.
	var sale database.Sale
	err = g.db.WithContext(ctx).First(&sale, access.SaleID).Error
	if err != nil || sale.Status != database.SaleStatusCompleted {
		reason := "sale no longer completed"
		if err != nil {
			reason = "sale record missing"
		}
		return nil, database.AuditStatusBlocked, reason, http.StatusForbidden
	}

	return &access, "", "", 0
}

func (g *Gateway) record(audit *database.DownloadAudit) {
	if err := g.db.Create(audit).Error; err != nil {
		slog.Error("Failed to write download audit", "status", audit.Status, "error", err)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
