package staking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/AetherStake/internal/ledger"
	"github.com/irfndi/AetherStake/internal/models"
	"github.com/shopspring/decimal"
)

// InitializeRequest creates a pool in the pool_id slot
type InitializeRequest struct {
	PoolID string `json:"pool_id" binding:"required"`
	Params
}

// AmountRequest carries a token amount in base units
type AmountRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// PoolView is a pool with human readable amounts
type PoolView struct {
	*models.StakingPool
	APYRate           decimal.Decimal `json:"apy_rate"`
	TotalStakedTokens decimal.Decimal `json:"total_staked_tokens"`
	RewardPoolTokens  decimal.Decimal `json:"reward_pool_tokens"`
}

// PositionView is a position with its unlock time and pending reward
type PositionView struct {
	*models.UserPosition
	StakedTokens        decimal.Decimal `json:"staked_tokens"`
	UnlockTime          int64           `json:"unlock_time"`
	PendingReward       uint64          `json:"pending_reward"`
	PendingRewardTokens decimal.Decimal `json:"pending_reward_tokens"`
}

// ReceiptResponse is returned by every mutating route
type ReceiptResponse struct {
	OpID         string                 `json:"op_id,omitempty"`
	Op           models.TransactionType `json:"op"`
	Pool         PoolView               `json:"pool"`
	Position     *PositionView          `json:"position,omitempty"`
	Amount       uint64                 `json:"amount"`
	Reward       uint64                 `json:"reward"`
	RewardTokens decimal.Decimal        `json:"reward_tokens"`
	Timestamp    int64                  `json:"timestamp"`
}

// Handler exposes the staking engine over HTTP
type Handler struct {
	service Service
}

// NewHandler creates a new staking handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Initialize handles POST /pools
func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return
	}

	receipt, err := h.service.Initialize(c.Request.Context(), req.PoolID, c.GetString("user_address"), req.Params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReceiptResponse(receipt))
}

// GetPool handles GET /pools/:poolId
func (h *Handler) GetPool(c *gin.Context) {
	pool, err := h.service.GetPool(c.Request.Context(), c.Param("poolId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPoolView(pool))
}

// UpdateParams handles PUT /pools/:poolId/params
func (h *Handler) UpdateParams(c *gin.Context) {
	var params Params
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return
	}

	receipt, err := h.service.UpdateParams(c.Request.Context(), c.Param("poolId"), c.GetString("user_address"), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// AddRewards handles POST /pools/:poolId/rewards
func (h *Handler) AddRewards(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return
	}

	receipt, err := h.service.AddRewards(c.Request.Context(), c.Param("poolId"), c.GetString("user_address"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// Stake handles POST /pools/:poolId/stake
func (h *Handler) Stake(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return
	}

	receipt, err := h.service.Stake(c.Request.Context(), c.Param("poolId"), c.GetString("user_address"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// ClaimRewards handles POST /pools/:poolId/claim
func (h *Handler) ClaimRewards(c *gin.Context) {
	receipt, err := h.service.ClaimRewards(c.Request.Context(), c.Param("poolId"), c.GetString("user_address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// Unstake handles POST /pools/:poolId/unstake
func (h *Handler) Unstake(c *gin.Context) {
	receipt, err := h.service.Unstake(c.Request.Context(), c.Param("poolId"), c.GetString("user_address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// GetPosition handles GET /pools/:poolId/positions/:owner
func (h *Handler) GetPosition(c *gin.Context) {
	ctx := c.Request.Context()
	poolID := c.Param("poolId")

	pool, err := h.service.GetPool(ctx, poolID)
	if err != nil {
		writeError(c, err)
		return
	}
	position, err := h.service.GetPosition(ctx, poolID, c.Param("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	if position == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found", "code": "POSITION_NOT_FOUND"})
		return
	}
	pending, err := h.service.PendingReward(ctx, poolID, position.Owner)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPositionView(position, pending, pool.TokenDecimals))
}

// ListPositions handles GET /pools/:poolId/positions
func (h *Handler) ListPositions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit > 100 {
		limit = 100
	}

	ctx := c.Request.Context()
	pool, err := h.service.GetPool(ctx, c.Param("poolId"))
	if err != nil {
		writeError(c, err)
		return
	}
	positions, err := h.service.ListPositions(ctx, pool.PoolID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]*PositionView, 0, len(positions))
	for _, position := range positions {
		views = append(views, newPositionView(position, 0, pool.TokenDecimals))
	}
	c.JSON(http.StatusOK, gin.H{"positions": views, "limit": limit, "offset": offset})
}

// Audit handles GET /pools/:poolId/audit
func (h *Handler) Audit(c *gin.Context) {
	audit, err := h.service.Audit(c.Request.Context(), c.Param("poolId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// RegisterRoutes mounts the pool routes. Mutating routes run behind requireAuth.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	pools := router.Group("/pools")
	{
		pools.GET("/:poolId", h.GetPool)
		pools.GET("/:poolId/audit", h.Audit)
		pools.GET("/:poolId/positions", h.ListPositions)
		pools.GET("/:poolId/positions/:owner", h.GetPosition)
	}

	authed := router.Group("/pools", requireAuth)
	{
		authed.POST("", h.Initialize)
		authed.PUT("/:poolId/params", h.UpdateParams)
		authed.POST("/:poolId/rewards", h.AddRewards)
		authed.POST("/:poolId/stake", h.Stake)
		authed.POST("/:poolId/claim", h.ClaimRewards)
		authed.POST("/:poolId/unstake", h.Unstake)
	}
}

func newPoolView(pool *models.StakingPool) PoolView {
	return PoolView{
		StakingPool:       pool,
		APYRate:           ledger.ToDecimal(pool.APY, 2),
		TotalStakedTokens: ledger.ToDecimal(pool.TotalStaked, pool.TokenDecimals),
		RewardPoolTokens:  ledger.ToDecimal(pool.RewardPool, pool.TokenDecimals),
	}
}

func newPositionView(position *models.UserPosition, pending uint64, decimals int32) *PositionView {
	return &PositionView{
		UserPosition:        position,
		StakedTokens:        ledger.ToDecimal(position.StakedAmount, decimals),
		UnlockTime:          position.UnlockTime(),
		PendingReward:       pending,
		PendingRewardTokens: ledger.ToDecimal(pending, decimals),
	}
}

func newReceiptResponse(receipt *Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		OpID:         receipt.OpID,
		Op:           receipt.Op,
		Pool:         newPoolView(receipt.Pool),
		Amount:       receipt.Amount,
		Reward:       receipt.Reward,
		RewardTokens: ledger.ToDecimal(receipt.Reward, receipt.Pool.TokenDecimals),
		Timestamp:    receipt.Timestamp,
	}
	if receipt.Position != nil {
		resp.Position = newPositionView(receipt.Position, 0, receipt.Pool.TokenDecimals)
	}
	return resp
}

// errorStatus maps engine errors onto HTTP status codes and error codes
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest, "INVALID_PARAMS"
	case errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest, "INVALID_ADDRESS"
	case errors.Is(err, ErrNotPoolOwner):
		return http.StatusForbidden, "NOT_POOL_OWNER"
	case errors.Is(err, ErrNotAuthorizedFunder):
		return http.StatusForbidden, "NOT_AUTHORIZED_FUNDER"
	case errors.Is(err, ledger.ErrUnauthorizedTransfer):
		return http.StatusForbidden, "UNAUTHORIZED_TRANSFER"
	case errors.Is(err, ErrPoolNotFound):
		return http.StatusNotFound, "POOL_NOT_FOUND"
	case errors.Is(err, ErrAlreadyStaked):
		return http.StatusConflict, "ALREADY_STAKED"
	case errors.Is(err, ErrPoolExists):
		return http.StatusConflict, "POOL_EXISTS"
	case errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict, "CONCURRENT_UPDATE"
	case errors.Is(err, ErrStakingNotStarted):
		return http.StatusUnprocessableEntity, "STAKING_NOT_STARTED"
	case errors.Is(err, ErrStakingEnded):
		return http.StatusUnprocessableEntity, "STAKING_ENDED"
	case errors.Is(err, ErrNothingStaked):
		return http.StatusUnprocessableEntity, "NOTHING_STAKED"
	case errors.Is(err, ErrLockPeriodNotOver):
		return http.StatusUnprocessableEntity, "LOCK_PERIOD_NOT_OVER"
	case errors.Is(err, ErrInsufficientRewardPool):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_REWARD_POOL"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}
