package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
)

const dateOnlyLayout = "2006-01-02"

func accountIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, newValidationError("id", "invalid_id", "invalid account id")
	}
	return id, nil
}

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// parseEntryTypes accepts a comma separated list such as "topup,refund".
func parseEntryTypes(value string) ([]ledgerdomain.EntryType, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	var types []ledgerdomain.EntryType
	for _, part := range strings.Split(trimmed, ",") {
		entryType := ledgerdomain.EntryType(strings.TrimSpace(part))
		if entryType == "" {
			continue
		}
		if !entryType.Valid() {
			return nil, ledgerdomain.ErrInvalidEntryType
		}
		types = append(types, entryType)
	}
	return types, nil
}

func parseDirection(value string) (ledgerdomain.Direction, error) {
	switch direction := ledgerdomain.Direction(strings.TrimSpace(value)); direction {
	case "", ledgerdomain.DirectionCredit, ledgerdomain.DirectionDebit:
		return direction, nil
	default:
		return "", newValidationError("direction", "invalid_direction", "invalid direction")
	}
}
