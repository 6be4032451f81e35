package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	spendguarddomain "github.com/smallbiznis/wabaledger/internal/spendguard/domain"
)

type preSendCheckRequest struct {
	MessageCount int64  `json:"message_count"`
	Category     string `json:"category"`
	Feature      string `json:"feature"`
}

// PreSendCheck is read-only. A denial is a normal answer, so it is always 200.
func (s *Server) PreSendCheck(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req preSendCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	decision, err := s.spendGuardSvc.PreSendCheck(c.Request.Context(), spendguarddomain.PreSendCheckRequest{
		AccountID:    accountID,
		MessageCount: req.MessageCount,
		Category:     plandomain.Category(strings.TrimSpace(req.Category)),
		Feature:      plandomain.Feature(strings.TrimSpace(req.Feature)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		c.Set("deny_reason", string(decision.Reason))
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

type chargeOneRequest struct {
	Category string                         `json:"category"`
	Message  spendguarddomain.MessageRecord `json:"message"`
}

func (s *Server) ChargeOne(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req chargeOneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.spendGuardSvc.ChargeOne(c.Request.Context(), spendguarddomain.ChargeOneRequest{
		AccountID: accountID,
		Category:  plandomain.Category(strings.TrimSpace(req.Category)),
		Message:   req.Message,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !result.Charged {
		c.Set("deny_reason", string(result.Reason))
	}

	c.JSON(chargeStatus(result.Charged, result.Reason), gin.H{"data": result})
}

type chargeBatchRequest struct {
	BatchID  string                           `json:"batch_id"`
	Category string                           `json:"category"`
	Messages []spendguarddomain.MessageRecord `json:"messages"`
}

func (s *Server) ChargeBatch(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req chargeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.spendGuardSvc.ChargeBatch(c.Request.Context(), spendguarddomain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   strings.TrimSpace(req.BatchID),
		Category:  plandomain.Category(strings.TrimSpace(req.Category)),
		Messages:  req.Messages,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !result.Charged {
		c.Set("deny_reason", string(result.Reason))
	}

	c.JSON(chargeStatus(result.Charged, result.Reason), gin.H{"data": result})
}

type logMessagesRequest struct {
	BatchID  string                           `json:"batch_id"`
	Category string                           `json:"category"`
	Reason   string                           `json:"reason"`
	Messages []spendguarddomain.MessageRecord `json:"messages"`
}

// LogRejection stores sends the caller refused after a negative pre-send check.
func (s *Server) LogRejection(c *gin.Context) {
	s.logUncharged(c, s.spendGuardSvc.LogRejection)
}

// LogFailure stores sends the provider failed to deliver. Nothing is charged.
func (s *Server) LogFailure(c *gin.Context) {
	s.logUncharged(c, s.spendGuardSvc.LogFailure)
}

func (s *Server) logUncharged(c *gin.Context, record func(ctx context.Context, req spendguarddomain.LogRequest) error) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req logMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := record(c.Request.Context(), spendguarddomain.LogRequest{
		AccountID: accountID,
		Category:  plandomain.Category(strings.TrimSpace(req.Category)),
		Messages:  req.Messages,
		BatchID:   strings.TrimSpace(req.BatchID),
		Reason:    strings.TrimSpace(req.Reason),
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"logged": len(req.Messages)}})
}

func (s *Server) ListMessageLogs(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logs, err := s.spendGuardSvc.MessageLogs(c.Request.Context(), accountID, strings.TrimSpace(c.Param("message_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

func (s *Server) UsageSummary(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.spendGuardSvc.UsageSummary(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) EstimateCost(c *gin.Context) {
	count, err := parseOptionalInt64(c.Query("count"))
	if err != nil || count == nil {
		AbortWithError(c, newValidationError("count", "invalid_count", "invalid count"))
		return
	}
	category := plandomain.Category(strings.TrimSpace(c.Query("category")))

	cost, err := s.spendGuardSvc.EstimateCost(*count, category)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"category":      plandomain.NormalizeCategory(category),
		"message_count": *count,
		"cost":          cost,
	}})
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func chargeStatus(charged bool, reason spendguarddomain.ReasonCode) int {
	if charged {
		return http.StatusOK
	}
	switch reason {
	case spendguarddomain.ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	case spendguarddomain.ReasonLimitDaily, spendguarddomain.ReasonLimitMonthly:
		return http.StatusTooManyRequests
	case spendguarddomain.ReasonFeatureNotIncluded:
		return http.StatusForbidden
	case spendguarddomain.ReasonDuplicateTransaction:
		return http.StatusConflict
	case spendguarddomain.ReasonWalletNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}
