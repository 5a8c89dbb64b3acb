package handler

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"dojoattend/internal/qrtoken"
	"dojoattend/internal/store"
)

// renderCredential writes the credential in the requested format: png, svg
// or json (default).
func (h *Handler) renderCredential(c *gin.Context, id qrtoken.Identity) {
	token, err := qrtoken.Encode(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "png":
		b, err := qrtoken.RenderPNG(token)
		if err != nil {
			h.renderError(c, err)
			return
		}
		disposition := mime.FormatMediaType("inline", map[string]string{"filename": token + ".png"})
		if disposition == "" {
			disposition = "inline"
		}
		c.Header("Content-Disposition", disposition)
		c.Data(http.StatusOK, "image/png", b)
	case "svg":
		svg, err := qrtoken.RenderSVG(token)
		if err != nil {
			h.renderError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/svg+xml", []byte(svg))
	case "json":
		cred, err := qrtoken.NewCredential(id)
		if err != nil {
			h.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, cred)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be png, svg or json"})
	}
}

func (h *Handler) renderError(c *gin.Context, err error) {
	h.log.Error().Err(err).Msg("render credential")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "rendering failed"})
}

// studentIdentity confirms the student exists. While the store is down the
// id from the path is trusted since the token only depends on it.
func (h *Handler) studentIdentity(c *gin.Context) (qrtoken.Identity, bool) {
	id := c.Param("id")
	s, err := h.Service.Student(c.Request.Context(), id)
	switch {
	case err == nil:
		return qrtoken.Identity{Kind: qrtoken.KindStudent, ReferenceID: s.ID, Name: s.Name()}, true
	case store.IsTransient(err):
		h.log.Warn().Err(err).Str("student", id).Msg("render credential without lookup")
		return qrtoken.Identity{Kind: qrtoken.KindStudent, ReferenceID: id}, true
	}
	h.storeError(c, "get student", err)
	return qrtoken.Identity{}, false
}

func (h *Handler) studentCredential(c *gin.Context) {
	id, ok := h.studentIdentity(c)
	if !ok {
		return
	}
	h.renderCredential(c, id)
}

// familyCredential renders the card of a credential some parent holds. While
// the store is down the credential is rendered unchecked.
func (h *Handler) familyCredential(c *gin.Context) {
	credential := c.Param("credential")
	students, err := h.Service.FamilyStudents(c.Request.Context(), credential)
	switch {
	case err == nil && len(students) == 0:
		c.JSON(http.StatusNotFound, gin.H{"error": "no students for family credential"})
		return
	case err != nil && store.IsTransient(err):
		h.log.Warn().Err(err).Msg("render family credential without lookup")
	case err != nil:
		h.storeError(c, "family students", err)
		return
	}
	h.renderCredential(c, qrtoken.Identity{Kind: qrtoken.KindFamily, ReferenceID: credential})
}

func (h *Handler) issueFamilyCredential(c *gin.Context) {
	credential, err := h.Service.IssueFamilyCredential(c.Request.Context(), c.Param("parentId"))
	if err != nil {
		h.storeError(c, "issue family credential", err)
		return
	}
	cred, err := qrtoken.NewCredential(qrtoken.Identity{Kind: qrtoken.KindFamily, ReferenceID: credential})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"credential": credential, "card": cred})
}

func (h *Handler) publishStudentCredential(c *gin.Context) {
	if !h.CDN.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	id, ok := h.studentIdentity(c)
	if !ok {
		return
	}
	token, err := qrtoken.Encode(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := qrtoken.RenderPNG(token)
	if err != nil {
		h.renderError(c, err)
		return
	}
	res, err := h.CDN.UploadPNG(c.Request.Context(), token, b)
	if err != nil {
		h.log.Error().Err(err).Str("token", token).Msg("cloudinary upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "url": res.SecureURL, "public_id": res.PublicID})
}
