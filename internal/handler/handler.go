// Package handler exposes the check-in pipeline over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dojoattend/internal/attendance"
	"dojoattend/internal/auth"
	"dojoattend/internal/cloudinary"
	"dojoattend/internal/httpmiddleware"
	"dojoattend/internal/queue"
	"dojoattend/internal/store"
)

// AuthConfig configures kiosk enrollment and token checks.
type AuthConfig struct {
	Issuer        string
	SigningKey    string
	AccessTTL     time.Duration
	EnrollmentKey string
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Resolver *attendance.Resolver
	Service  *attendance.Service
	Queue    *queue.Engine
	CDN      *cloudinary.Client
	Limiter  *httpmiddleware.Limiter
	Auth     AuthConfig
	// Checks are extra health probes keyed by component name.
	Checks map[string]func(ctx context.Context) error
	Log    zerolog.Logger
}

// Handler serves the API routes.
type Handler struct {
	Deps
	log zerolog.Logger
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d, log: d.Log.With().Str("component", "http").Logger()}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)
	r.POST("/v1/kiosks/register", h.registerKiosk)

	v1 := r.Group("/v1", auth.KioskAuth(h.Auth.SigningKey, h.Auth.Issuer))
	if h.Limiter != nil {
		v1.Use(h.Limiter.GinMiddleware())
	}
	v1.POST("/checkins", h.checkIn)
	v1.GET("/classes/current", h.currentClass)
	v1.GET("/classes/:id/attendance", h.classAttendance)
	v1.PATCH("/students/:id", h.updateStudent)
	v1.GET("/credentials/students/:id", h.studentCredential)
	v1.GET("/credentials/families/:credential", h.familyCredential)
	v1.POST("/credentials/students/:id/publish", h.publishStudentCredential)
	v1.POST("/families/:parentId/credential", h.issueFamilyCredential)
	v1.GET("/sync/status", h.syncStatus)
	v1.POST("/sync", h.syncNow)
	v1.GET("/sync/dead-letters", h.deadLetters)
	v1.POST("/kiosk/resume", h.resume)
}

// KioskKey charges rate limits to the authenticated kiosk, falling back to
// the client address.
func KioskKey(c *gin.Context) string {
	if id := auth.KioskID(c); id != "" {
		return "kiosk:" + id
	}
	return "ip:" + c.ClientIP()
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := h.Service.Ping(ctx) == nil
	if !db {
		status = http.StatusServiceUnavailable
	}
	body := gin.H{"status": "ok", "db": db}
	for name, check := range h.Checks {
		ok := check(ctx) == nil
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if h.Queue != nil {
		body["queue"] = h.Queue.Status()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

func (h *Handler) registerKiosk(c *gin.Context) {
	var req struct {
		KioskID       string `json:"kiosk_id" binding:"required"`
		EnrollmentKey string `json:"enrollment_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := auth.CheckEnrollmentKey(h.Auth.EnrollmentKey, req.EnrollmentKey); err != nil {
		h.log.Warn().Str("kiosk", req.KioskID).Str("ip", c.ClientIP()).Msg("rejected kiosk enrollment")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid enrollment key"})
		return
	}
	tok, err := auth.Issue(req.KioskID, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL)
	if err != nil {
		h.log.Error().Err(err).Msg("issue kiosk token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	h.log.Info().Str("kiosk", req.KioskID).Msg("kiosk enrolled")
	c.JSON(http.StatusCreated, gin.H{"access_token": tok.AccessToken, "expires_at": tok.ExpiresAt.Unix()})
}

// storeStatus maps a classified store error to an HTTP status.
func storeStatus(err error) int {
	switch store.Classify(err) {
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindConflict:
		return http.StatusConflict
	case store.KindPermanent:
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func (h *Handler) storeError(c *gin.Context, op string, err error) {
	code := storeStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("op", op).Msg("store request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
