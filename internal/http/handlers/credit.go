package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fhecredit/backend/internal/domain/registry"
	"github.com/fhecredit/backend/internal/fhe"
	"github.com/fhecredit/backend/internal/http/middleware"
	"github.com/gin-gonic/gin"
)

type CreditService interface {
	Submit(ctx context.Context, identity string, in registry.SubmitInput) (*registry.CreditRecord, error)
	Evaluate(ctx context.Context, caller, identity string) (*registry.Evaluation, error)
	RequestApproval(ctx context.Context, identity string) error
	Status(ctx context.Context, identity string) (*registry.StatusInfo, error)
	TotalEvaluations(ctx context.Context) (uint64, error)
	ReadScore(ctx context.Context, caller, identity string) (fhe.Ciphertext, error)
	ReadApproval(ctx context.Context, caller, identity string) (fhe.Ciphertext, error)
}

type CreditHandler struct {
	service CreditService
}

func NewCreditHandler(service CreditService) *CreditHandler {
	return &CreditHandler{service: service}
}

func callerIdentity(c *gin.Context) string {
	v, _ := c.Get(middleware.ContextIdentity)
	identity, _ := v.(string)
	return identity
}

func writeRegistryError(c *gin.Context, err error) {
	var validationErr *registry.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": validationErr})
	case errors.Is(err, registry.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": "already_submitted"})
	case errors.Is(err, registry.ErrAlreadyEvaluated):
		c.JSON(http.StatusConflict, gin.H{"error": "already_evaluated"})
	case errors.Is(err, registry.ErrAlreadyRequested):
		c.JSON(http.StatusConflict, gin.H{"error": "approval_already_requested"})
	case errors.Is(err, registry.ErrNotSubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": "not_submitted"})
	case errors.Is(err, registry.ErrNotEvaluated):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_evaluated"})
	case errors.Is(err, registry.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_authorized"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *CreditHandler) Submit(c *gin.Context) {
	var in registry.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	rec, err := h.service.Submit(c.Request.Context(), callerIdentity(c), in)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":     rec.Identity,
		"submitted_at": rec.SubmittedAt,
	})
}

func (h *CreditHandler) Evaluate(c *gin.Context) {
	var body struct {
		Identity string `json:"identity"`
	}
	// Body is optional: with no body the caller evaluates itself.
	_ = c.ShouldBindJSON(&body)

	// Authorization lives in the service: evaluating another identity
	// requires the admin, and the service reports ErrNotAuthorized.
	ev, err := h.service.Evaluate(c.Request.Context(), callerIdentity(c), strings.TrimSpace(body.Identity))
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":     ev.Identity,
		"evaluated_at": ev.EvaluatedAt,
	})
}

func (h *CreditHandler) RequestApproval(c *gin.Context) {
	if err := h.service.RequestApproval(c.Request.Context(), callerIdentity(c)); err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approval_requested"})
}

func (h *CreditHandler) GetStatus(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_identity"})
		return
	}

	info, err := h.service.Status(c.Request.Context(), identity)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *CreditHandler) GetStats(c *gin.Context) {
	total, err := h.service.TotalEvaluations(c.Request.Context())
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_evaluations": total})
}

func (h *CreditHandler) GetScore(c *gin.Context) {
	h.readResult(c, h.service.ReadScore)
}

func (h *CreditHandler) GetApproval(c *gin.Context) {
	h.readResult(c, h.service.ReadApproval)
}

func (h *CreditHandler) readResult(c *gin.Context, read func(context.Context, string, string) (fhe.Ciphertext, error)) {
	identity := strings.TrimSpace(c.Param("identity"))
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_identity"})
		return
	}

	ct, err := read(c.Request.Context(), callerIdentity(c), identity)
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "ciphertext": ct})
}
