package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/auth"
)

type tokenRequest struct {
	OperatorKey string `json:"operator_key" binding:"required"`
	Name        string `json:"name"`
}

// IssueToken exchanges the operator key for an access/refresh pair.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "operator_key required")
		return
	}
	if h.cfg.OperatorKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "operator login not configured"})
		return
	}
	if !auth.KeyMatches(req.OperatorKey, h.cfg.OperatorKey) {
		h.log.Warn("operator key rejected", "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid operator key"})
		return
	}
	name := req.Name
	if name == "" {
		name = "operator"
	}
	pair, err := h.signer.Issue(name, auth.RoleOperator)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

// RefreshToken issues a new pair for a valid refresh token.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refresh_token required")
		return
	}
	pair, err := h.signer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}
