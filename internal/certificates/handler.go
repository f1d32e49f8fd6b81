package certificates

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hafiyazfar/certrepo/internal/auth"
)

// Handler exposes the engine's public contract over HTTP.
type Handler struct {
	lifecycle    *LifecycleService
	approval     *ApprovalService
	sharing      *ShareService
	verification *VerificationService
	logger       *zap.Logger
}

// NewHandler creates the certificates handler.
func NewHandler(lifecycle *LifecycleService, approval *ApprovalService, sharing *ShareService, verification *VerificationService, logger *zap.Logger) *Handler {
	return &Handler{
		lifecycle:    lifecycle,
		approval:     approval,
		sharing:      sharing,
		verification: verification,
		logger:       logger,
	}
}

// RegisterRoutes registers certificate routes. authRequired guards every
// mutating lifecycle endpoint; verification endpoints stay public.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, authRequired gin.HandlerFunc) {
	certs := router.Group("/certificates", authRequired)
	{
		certs.POST("", h.createCertificate)
		certs.GET("/:id", h.getCertificate)
		certs.GET("/:id/artifact", h.getArtifact)
		certs.GET("/:id/transactions", h.listTransactions)
		certs.POST("/:id/issue", h.issueCertificate)
		certs.POST("/:id/approve", h.approveStep)
		certs.POST("/:id/reject", h.rejectStep)
		certs.POST("/:id/revoke", h.revokeCertificate)
		certs.POST("/:id/share", h.createShareToken)
		certs.DELETE("/:id/share/:tokenId", h.revokeShareToken)
	}

	verify := router.Group("/verify")
	{
		verify.GET("/certificate/:id", h.verifyByID)
		verify.GET("/code/:code", h.verifyByCode)
		verify.POST("/token", h.verifyByToken)
	}

	stats := router.Group("/statistics", authRequired)
	{
		stats.GET("", h.getStatistics)
		stats.GET("/export", h.exportStatistics)
	}
}

func (h *Handler) createCertificate(c *gin.Context) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cert, err := h.lifecycle.CreateCertificate(c.Request.Context(), actor, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (h *Handler) getCertificate(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	cert, err := h.lifecycle.GetCertificate(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) getArtifact(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	cert, err := h.lifecycle.GetCertificate(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cert.Artifact == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no artifact rendered yet"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="certificate.pdf"`)
	c.Data(http.StatusOK, "application/pdf", cert.Artifact)
}

func (h *Handler) listTransactions(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	recs, err := h.lifecycle.GetTransactions(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) issueCertificate(c *gin.Context) {
	actor, _ := auth.ActorFromContext(c)
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	cert, err := h.lifecycle.IssueCertificate(c.Request.Context(), actor, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

type stepDecisionRequest struct {
	StepID   string `json:"step_id" binding:"required"`
	Comments string `json:"comments"`
}

func (h *Handler) approveStep(c *gin.Context) {
	h.decideStep(c, h.approval.ApproveStep)
}

func (h *Handler) rejectStep(c *gin.Context) {
	h.decideStep(c, h.approval.RejectStep)
}

func (h *Handler) decideStep(c *gin.Context, decide func(ctx context.Context, certID uuid.UUID, approverID string, stepID uuid.UUID, comments string) (*Certificate, error)) {
	actor, _ := auth.ActorFromContext(c)
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req stepDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stepID, err := uuid.Parse(req.StepID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step id"})
		return
	}
	cert, err := decide(c.Request.Context(), id, actor.ID, stepID, req.Comments)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

type revokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) revokeCertificate(c *gin.Context) {
	actor, _ := auth.ActorFromContext(c)
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cert, err := h.lifecycle.RevokeCertificate(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

type createShareTokenRequest struct {
	ValidityDays *int    `json:"validity_days,omitempty"`
	Password     *string `json:"password,omitempty"`
	MaxAccess    *int    `json:"max_access,omitempty"`
}

func (h *Handler) createShareToken(c *gin.Context) {
	actor, _ := auth.ActorFromContext(c)
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req createShareTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := ShareTokenOptions{Password: req.Password, MaxAccess: req.MaxAccess}
	if req.ValidityDays != nil {
		d := time.Duration(*req.ValidityDays) * 24 * time.Hour
		opts.Validity = &d
	}
	token, err := h.sharing.CreateShareToken(c.Request.Context(), id, actor.ID, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (h *Handler) revokeShareToken(c *gin.Context) {
	actor, _ := auth.ActorFromContext(c)
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	tokenID, err := uuid.Parse(c.Param("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return
	}
	if err := h.sharing.RevokeShareToken(c.Request.Context(), id, tokenID, actor.ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) verifyByID(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	cert, err := h.verification.VerifyByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) verifyByCode(c *gin.Context) {
	cert, err := h.verification.VerifyByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

type verifyByTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password"`
}

func (h *Handler) verifyByToken(c *gin.Context) {
	var req verifyByTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cert, err := h.verification.VerifyByToken(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) getStatistics(c *gin.Context) {
	stats, err := h.lifecycle.GetStatistics(c.Request.Context(), statisticsFilter(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) exportStatistics(c *gin.Context) {
	stats, err := h.lifecycle.GetStatistics(c.Request.Context(), statisticsFilter(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteStatisticsXLSX(stats, &buf); err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="certificate-statistics.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func statisticsFilter(c *gin.Context) StatisticsFilter {
	var filter StatisticsFilter
	if v := c.Query("issuer_id"); v != "" {
		filter.IssuerID = &v
	}
	if v := c.Query("organization_id"); v != "" {
		filter.OrganizationID = &v
	}
	return filter
}

func (h *Handler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid certificate id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		permissionErr *PermissionError
		stateErr      *InvalidStateError
		storageErr    *StorageError
		renderErr     *RenderingError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &permissionErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInactive):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, ErrTokenExhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &storageErr):
		h.logger.Error("storage failure", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary storage failure, retry"})
	case errors.As(err, &renderErr):
		h.logger.Error("rendering failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.logger.Error("unexpected failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
