package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dojoattend/internal/queue"
)

func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Queue.Status())
}

// syncNow runs a pass inline. A pass already in flight yields zero counts.
func (h *Handler) syncNow(c *gin.Context) {
	res := h.Queue.SyncAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"result": res, "status": h.Queue.Status()})
}

func (h *Handler) deadLetters(c *gin.Context) {
	dead, err := h.Queue.DeadLetters(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list dead letters")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if dead == nil {
		dead = []queue.DeadLetter{}
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": dead})
}

// resume is hit by kiosk front-ends when they regain visibility.
func (h *Handler) resume(c *gin.Context) {
	h.Queue.Resume()
	c.JSON(http.StatusAccepted, h.Queue.Status())
}
