package ledger

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BalanceResponse is the public view of a ledger account
type BalanceResponse struct {
	Address string          `json:"address"`
	Balance uint64          `json:"balance"`
	Amount  decimal.Decimal `json:"amount"`
}

// FaucetRequest funds an account in development deployments
type FaucetRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  uint64 `json:"amount" binding:"required"`
}

// Handler handles HTTP requests for ledger balances
type Handler struct {
	ledger       Ledger
	decimals     int32
	enableFaucet bool
}

// NewHandler creates a new ledger handler
func NewHandler(ledger Ledger, decimals int32, enableFaucet bool) *Handler {
	return &Handler{ledger: ledger, decimals: decimals, enableFaucet: enableFaucet}
}

// GetBalance handles GET /ledger/:address
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address", "code": "INVALID_ADDRESS"})
		return
	}

	h.writeBalance(c, common.HexToAddress(address).Hex())
}

// Faucet handles POST /ledger/faucet
func (h *Handler) Faucet(c *gin.Context) {
	if !h.enableFaucet {
		c.JSON(http.StatusNotFound, gin.H{"error": "faucet disabled"})
		return
	}

	var req FaucetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address", "code": "INVALID_ADDRESS"})
		return
	}
	address := common.HexToAddress(req.Address).Hex()

	if err := h.ledger.Mint(c.Request.Context(), address, req.Amount); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidAddress) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.writeBalance(c, address)
}

func (h *Handler) writeBalance(c *gin.Context, address string) {
	balance, err := h.ledger.Balance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{
		Address: address,
		Balance: balance,
		Amount:  ToDecimal(balance, h.decimals),
	})
}

// RegisterRoutes registers ledger routes on the given router group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	ledger := router.Group("/ledger")
	{
		ledger.GET("/:address", h.GetBalance)
		ledger.POST("/faucet", h.Faucet)
	}
}
