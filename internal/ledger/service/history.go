package service

import (
	"context"
	"iter"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/pkg/db/pagination"
)

const (
	defaultHistoryLimit = 100
	historyPageSize     = 50
	maxListPageSize     = 250
)

// GetHistory yields entries newest first, fetching lazily in pages.
// Each range over the returned sequence starts a fresh scan, so it can be
// consumed more than once; BeforeSequence resumes after a known entry.
func (s *Service) GetHistory(ctx context.Context, accountID snowflake.ID, filter ledgerdomain.HistoryFilter) iter.Seq2[ledgerdomain.LedgerEntry, error] {
	return func(yield func(ledgerdomain.LedgerEntry, error) bool) {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			yield(ledgerdomain.LedgerEntry{}, err)
			return
		}

		limit := filter.Limit
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		cursor := filter.BeforeSequence
		emitted := 0

		for emitted < limit {
			if err := ctx.Err(); err != nil {
				yield(ledgerdomain.LedgerEntry{}, err)
				return
			}

			page := filter
			page.BeforeSequence = cursor
			page.Limit = min(historyPageSize, limit-emitted)

			entries, err := s.repo.ListEntries(ctx, s.db, accountID, page)
			if err != nil {
				yield(ledgerdomain.LedgerEntry{}, err)
				return
			}
			for _, entry := range entries {
				if !yield(*entry, nil) {
					return
				}
				emitted++
				cursor = entry.Sequence
			}
			if len(entries) < page.Limit {
				return
			}
		}
	}
}

func (s *Service) ListHistory(ctx context.Context, req ledgerdomain.ListHistoryRequest) (ledgerdomain.ListHistoryResponse, error) {
	if _, err := s.GetAccount(ctx, req.AccountID); err != nil {
		return ledgerdomain.ListHistoryResponse{}, err
	}

	filter := ledgerdomain.HistoryFilter{
		EntryTypes: req.EntryTypes,
		Direction:  req.Direction,
		From:       req.From,
		To:         req.To,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil || cursor.Sequence <= 0 || cursor.ID != req.AccountID.String() {
			return ledgerdomain.ListHistoryResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		filter.BeforeSequence = cursor.Sequence
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 20, maxListPageSize)
	filter.Limit = pageSize + 1

	items, err := s.repo.ListEntries(ctx, s.db, req.AccountID, filter)
	if err != nil {
		return ledgerdomain.ListHistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *ledgerdomain.LedgerEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:       req.AccountID.String(),
			Sequence: item.Sequence,
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	entries := make([]ledgerdomain.LedgerEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *item)
	}

	resp := ledgerdomain.ListHistoryResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
