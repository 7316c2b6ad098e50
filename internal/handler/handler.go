package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pimarket/internal/model"
	"pimarket/internal/service"
	"pimarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// SignatureHeader Pi 回调签名头
const SignatureHeader = "X-Pi-Signature"

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	settlement *service.SettlementService
	callbacks  *service.CallbackService
	queries    *service.TransactionQueryService
	sellers    service.SellerMetricsLedger
}

func NewHandler(
	settlement *service.SettlementService,
	callbacks *service.CallbackService,
	queries *service.TransactionQueryService,
	sellers service.SellerMetricsLedger,
) *Handler {
	return &Handler{
		settlement: settlement,
		callbacks:  callbacks,
		queries:    queries,
		sellers:    sellers,
	}
}

// ============================================================
// 交易相关接口
// ============================================================

// CreateTransactionRequest 购买请求
type CreateTransactionRequest struct {
	ListingID int64 `json:"listing_id" binding:"required,gt=0"`
}

// CreateTransaction 发起购买
// POST /api/v1/transactions
//
// 立即返回 PENDING 交易，结算由后台队列或 Pi 回调完成。
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.settlement.Initiate(c.Request.Context(), currentUser(c), req.ListingID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Created(c, trans)
}

// ListTransactions 查询当前用户作为买家或卖家的交易
// GET /api/v1/transactions?status=COMPLETED
func (h *Handler) ListTransactions(c *gin.Context) {
	var status *model.TransactionStatus
	if raw := c.Query("status"); raw != "" {
		s, ok := model.ParseTransactionStatus(raw)
		if !ok {
			response.ParamError(c, "status 参数错误")
			return
		}
		status = &s
	}

	transactions, err := h.queries.ListForUser(c.Request.Context(), currentUser(c), status)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  transactions,
		"total": len(transactions),
	})
}

// GetTransaction 交易详情，只有买卖双方可以查看
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	trans, err := h.queries.GetForUser(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// Pi 回调
// ============================================================

// piCallbackRequest transaction_id 兼容数字和字符串两种写法
type piCallbackRequest struct {
	PaymentID     string      `json:"payment_id"`
	Status        string      `json:"status"`
	TransactionID json.Number `json:"transaction_id"`
	Error         string      `json:"error"`
}

// PiCallback Pi 支付回调
// POST /api/v1/transactions/pi-callback
//
// 【关键点】交易已结算时也返回成功，否则 Pi 会一直重试；
// 只有参数错误、签名错误、交易不存在才返回非 2xx。
func (h *Handler) PiCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败")
		return
	}

	if err := h.callbacks.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
		writeError(c, err)
		return
	}

	var req piCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, service.ErrMalformedCallback)
		return
	}

	_, err = h.callbacks.Handle(c.Request.Context(), service.CallbackPayload{
		PaymentID:     req.PaymentID,
		Status:        req.Status,
		TransactionID: req.TransactionID.String(),
		Error:         req.Error,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ============================================================
// 卖家统计
// ============================================================

// GetSellerMetrics 卖家统计，只读
// GET /api/v1/sellers/:id/metrics
func (h *Handler) GetSellerMetrics(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	metrics, err := h.sellers.GetMetrics(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, metrics)
}

// writeError 业务错误映射到 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrSelfPurchase):
		response.Error(c, http.StatusBadRequest, response.CodeSelfPurchase, err.Error())
	case errors.Is(err, service.ErrMalformedCallback):
		response.Error(c, http.StatusBadRequest, response.CodeMalformedCallback, err.Error())
	case errors.Is(err, service.ErrUnknownStatus):
		response.Error(c, http.StatusBadRequest, response.CodeUnknownStatus, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		response.Error(c, http.StatusUnauthorized, response.CodeInvalidSignature, err.Error())
	default:
		requestLogger(c).Error().Err(err).Msg("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}
