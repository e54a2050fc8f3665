package transaction

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/AetherStake/internal/models"
)

// Handler serves the operation journal
type Handler struct {
	repo TransactionRepository
}

// NewHandler creates a new journal handler
func NewHandler(repo TransactionRepository) *Handler {
	return &Handler{repo: repo}
}

// ListPoolTransactions handles GET /pools/:poolId/transactions
func (h *Handler) ListPoolTransactions(c *gin.Context) {
	limit, offset := pagination(c)
	poolID := c.Param("poolId")

	var (
		txs []*models.Transaction
		err error
	)
	if txType := c.Query("type"); txType != "" {
		txs, err = h.repo.GetByType(c.Request.Context(), poolID, models.TransactionType(txType), limit, offset)
	} else {
		txs, err = h.repo.GetByPoolID(c.Request.Context(), poolID, limit, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txs)
}

// ListUserTransactions handles GET /users/:address/transactions
func (h *Handler) ListUserTransactions(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address", "code": "INVALID_ADDRESS"})
		return
	}
	limit, offset := pagination(c)

	txs, err := h.repo.GetByUserAddress(c.Request.Context(), common.HexToAddress(address).Hex(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txs)
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// RegisterRoutes registers journal routes on the given router group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/pools/:poolId/transactions", h.ListPoolTransactions)
	router.GET("/users/:address/transactions", h.ListUserTransactions)
}
