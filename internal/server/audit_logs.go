package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/wabaledger/internal/audit/domain"
	"github.com/smallbiznis/wabaledger/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Action    string `form:"action"`
	ActorType string `form:"actor_type"`
	From      string `form:"from"`
	To        string `form:"to"`
}

// ListAuditLogs serves the admin trail for one account: openings, refunds,
// adjustments and integrity findings.
func (s *Server) ListAuditLogs(c *gin.Context) {
	accountID, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
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

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		AccountID:  accountID,
		Action:     strings.TrimSpace(query.Action),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    from,
		EndAt:      to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.AuditLogs,
		"page_info": resp.PageInfo,
	})
}
