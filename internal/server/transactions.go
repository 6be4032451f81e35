package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	spendguarddomain "github.com/smallbiznis/wabaledger/internal/spendguard/domain"
)

const referenceTypePayment = "payment"

type topupRequest struct {
	Amount         int64          `json:"amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	PaymentRef     string         `json:"payment_ref"`
	Metadata       map[string]any `json:"metadata"`
}

// RecordTopup is called by the payment confirmation flow. Replaying the same
// idempotency key returns the entry recorded the first time.
func (s *Server) RecordTopup(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	var ref *ledgerdomain.Reference
	if paymentRef := strings.TrimSpace(req.PaymentRef); paymentRef != "" {
		ref = &ledgerdomain.Reference{Type: referenceTypePayment, ID: paymentRef}
		if key == "" {
			key = "payment:" + paymentRef
		}
	}

	entry, err := s.ledgerSvc.RecordCredit(c.Request.Context(), ledgerdomain.CreditRequest{
		AccountID:      accountID,
		EntryType:      ledgerdomain.EntryTypeTopup,
		Amount:         req.Amount,
		IdempotencyKey: key,
		Reference:      ref,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type refundRequest struct {
	OriginalIdempotencyKey string         `json:"original_idempotency_key"`
	Reason                 string         `json:"reason"`
	Metadata               map[string]any `json:"metadata"`
}

func (s *Server) RecordRefund(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.spendGuardSvc.RefundCharge(c.Request.Context(), spendguarddomain.RefundChargeRequest{
		AccountID:              accountID,
		OriginalIdempotencyKey: strings.TrimSpace(req.OriginalIdempotencyKey),
		Reason:                 strings.TrimSpace(req.Reason),
		Actor:                  strings.TrimSpace(c.GetHeader(headerActorID)),
		Metadata:               req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type adjustmentRequest struct {
	Amount   int64          `json:"amount"`
	IsCredit bool           `json:"is_credit"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

const headerActorID = "X-Actor-ID"

// RecordAdjustment requires an operator identity in X-Actor-ID.
func (s *Server) RecordAdjustment(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.ledgerSvc.RecordAdjustment(c.Request.Context(), ledgerdomain.AdjustmentRequest{
		AccountID: accountID,
		Amount:    req.Amount,
		IsCredit:  req.IsCredit,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     strings.TrimSpace(c.GetHeader(headerActorID)),
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
