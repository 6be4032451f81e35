package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/pkg/db/pagination"
)

type openAccountRequest struct {
	TenantRef string `json:"tenant_ref"`
	PlanCode  string `json:"plan_code"`
	Currency  string `json:"currency"`
}

func (s *Server) OpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.ledgerSvc.OpenAccount(c.Request.Context(), ledgerdomain.OpenAccountRequest{
		TenantRef: strings.TrimSpace(req.TenantRef),
		PlanCode:  strings.TrimSpace(req.PlanCode),
		Currency:  strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetBalance(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": accountID.String(),
		"balance":    balance,
	}})
}

func (s *Server) ListEntries(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		pagination.Pagination
		EntryTypes string `form:"entry_types"`
		Direction  string `form:"direction"`
		From       string `form:"from"`
		To         string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entryTypes, err := parseEntryTypes(query.EntryTypes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	direction, err := parseDirection(query.Direction)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	resp, err := s.ledgerSvc.ListHistory(c.Request.Context(), ledgerdomain.ListHistoryRequest{
		Pagination: query.Pagination,
		AccountID:  accountID,
		EntryTypes: entryTypes,
		Direction:  direction,
		From:       from,
		To:         to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Entries,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) ValidateIntegrity(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.ledgerSvc.ValidateIntegrity(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
