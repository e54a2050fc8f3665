package user

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoleRequest names a role to grant or revoke
type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

var assignableRoles = map[string]bool{
	RoleFunder: true,
	RoleAdmin:  true,
}

// Handler exposes user records and role management
type Handler struct {
	repo UserRepository
}

// NewHandler creates a new user handler
func NewHandler(repo UserRepository) *Handler {
	return &Handler{repo: repo}
}

// GetUser handles GET /users/:address
func (h *Handler) GetUser(c *gin.Context) {
	address, ok := addressParam(c)
	if !ok {
		return
	}

	user, err := h.repo.GetByAddress(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found", "code": "USER_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// GrantRole handles POST /users/:address/roles
func (h *Handler) GrantRole(c *gin.Context) {
	address, ok := addressParam(c)
	if !ok {
		return
	}
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !assignableRoles[req.Role] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role", "code": "INVALID_ROLE"})
		return
	}

	if err := h.repo.AddRole(c.Request.Context(), address, req.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logrus.WithFields(logrus.Fields{
		"address":    address,
		"role":       req.Role,
		"granted_by": c.GetString("user_address"),
	}).Info("Role granted")

	h.GetUser(c)
}

// RevokeRole handles DELETE /users/:address/roles/:role
func (h *Handler) RevokeRole(c *gin.Context) {
	address, ok := addressParam(c)
	if !ok {
		return
	}
	role := c.Param("role")
	if !assignableRoles[role] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role", "code": "INVALID_ROLE"})
		return
	}

	user, err := h.repo.GetByAddress(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found", "code": "USER_NOT_FOUND"})
		return
	}
	if err := h.repo.RemoveRole(c.Request.Context(), address, role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logrus.WithFields(logrus.Fields{
		"address":    address,
		"role":       role,
		"revoked_by": c.GetString("user_address"),
	}).Info("Role revoked")

	h.GetUser(c)
}

func addressParam(c *gin.Context) (string, bool) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address", "code": "INVALID_ADDRESS"})
		return "", false
	}
	return common.HexToAddress(address).Hex(), true
}

// RegisterRoutes mounts the role management routes behind the given
// authentication and authorization middleware
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth, requireAdmin gin.HandlerFunc) {
	users := router.Group("/users", requireAuth, requireAdmin)
	{
		users.GET("/:address", h.GetUser)
		users.POST("/:address/roles", h.GrantRole)
		users.DELETE("/:address/roles/:role", h.RevokeRole)
	}
}
