package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/wabaledger/internal/audit/domain"
	"github.com/smallbiznis/wabaledger/internal/audit/repository"
	"github.com/smallbiznis/wabaledger/internal/auditcontext"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/pkg/db/dbtest"
	"github.com/smallbiznis/wabaledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    dbtest.Open(t, &auditdomain.AuditLog{}),
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, clk
}

func TestRecordResolvesActorAndMasks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditcontext.WithRequestID(context.Background(), "req-7")
	ctx = auditcontext.WithActor(ctx, "admin", "ops-3")

	err := svc.Record(ctx, auditdomain.Event{
		AccountID: 42,
		Action:    "ledger.refund",
		TargetID:  "900",
		Metadata:  map[string]any{"destination": "+6281234567890", "amount": 500},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{AccountID: 42})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	got := resp.AuditLogs[0]
	assert.Equal(t, "admin", got.ActorType)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, "ops-3", *got.ActorID)
	assert.Equal(t, "account", got.TargetType)
	assert.Equal(t, "+62****7890", got.Metadata["destination"])
	assert.Equal(t, "req-7", got.Metadata["request_id"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Event{AccountID: 1, Action: "account.opened"}))
	assert.ErrorIs(t, svc.Record(context.Background(), auditdomain.Event{AccountID: 1}), auditdomain.ErrInvalidAction)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{AccountID: 1})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	for _, action := range []string{"account.opened", "ledger.adjustment", "ledger.refund"} {
		require.NoError(t, svc.Record(ctx, auditdomain.Event{AccountID: 5, Action: action}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Event{AccountID: 6, Action: "account.opened"}))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		AccountID:  5,
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "ledger.refund", first.AuditLogs[0].Action)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		AccountID:  5,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "account.opened", second.AuditLogs[0].Action)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
