package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dojoattend/internal/attendance"
	"dojoattend/internal/auth"
	"dojoattend/internal/store"
)

type checkInRequest struct {
	Token   string `json:"token" binding:"required"`
	ClassID string `json:"class_id"`
	Notes   string `json:"notes"`
}

type checkInResponse struct {
	attendance.Outcome
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// outcomeStatus picks the HTTP status for a resolved scan.
func outcomeStatus(o attendance.Outcome) int {
	switch o.Status {
	case attendance.StatusSucceeded:
		return http.StatusCreated
	case attendance.StatusSucceededPending:
		return http.StatusAccepted
	case attendance.StatusDuplicate:
		return http.StatusConflict
	}
	switch o.Reason {
	case attendance.ReasonInvalidFormat:
		return http.StatusBadRequest
	case attendance.ReasonNoActiveClass:
		return http.StatusUnprocessableEntity
	case attendance.ReasonNoStudentsForFamily, attendance.ReasonStudentNotFound:
		return http.StatusNotFound
	}
	if o.Err != nil && !store.IsTransient(o.Err) {
		return http.StatusInternalServerError
	}
	return http.StatusServiceUnavailable
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if kiosk := auth.KioskID(c); kiosk != "" {
		ctx = attendance.WithCreatedBy(ctx, kiosk)
	}

	out := h.Resolver.ResolveCheckIn(ctx, req.Token, req.ClassID, req.Notes)
	resp := checkInResponse{Outcome: out, Message: out.Message()}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	c.JSON(outcomeStatus(out), resp)
}

func (h *Handler) currentClass(c *gin.Context) {
	class, ok, err := h.Service.CurrentClass(c.Request.Context())
	if err != nil {
		h.storeError(c, "current class", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active class"})
		return
	}
	c.JSON(http.StatusOK, class)
}

func (h *Handler) classAttendance(c *gin.Context) {
	recs, err := h.Service.ClassAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "class attendance", err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"class_id": c.Param("id"), "attendance": recs})
}

func (h *Handler) updateStudent(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pending, err := h.Service.UpdateStudent(c.Request.Context(), c.Param("id"), updates)
	if err != nil {
		h.storeError(c, "update student", err)
		return
	}
	code := http.StatusOK
	if pending {
		code = http.StatusAccepted
	}
	c.JSON(code, gin.H{"student_id": c.Param("id"), "pending": pending})
}
