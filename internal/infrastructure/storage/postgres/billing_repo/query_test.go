package billing_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
)

func TestIncrementQuery(t *testing.T) {
	seriesID := id.New()
	sql, args, err := incrementQuery("t1", seriesID, 500).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE billing_series SET current_number = current_number + 1, updated_at = NOW() "+
			"WHERE id = $1 AND status = $2 AND tenant_id = $3 "+
			"AND current_number < LEAST($4, COALESCE(range_end, $5)) RETURNING current_number",
		sql)
	// squirrel resolves driver.Valuer arguments inside Eq, so the id arrives as text.
	assert.Equal(t, []any{seriesID.String(), "active", "t1", int64(500), int64(500)}, args)
}

func TestMarkIssuedQuery_GuardsAgainstSecondAssignment(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := &billing.Document{
		ID:            id.New(),
		TenantID:      "t1",
		ControlNumber: "00-000123",
		IssueDate:     &now,
		UpdatedAt:     now,
	}
	sql, args, err := markIssuedQuery(doc).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "status IN ($7,$8)")
	assert.Contains(t, sql, "control_number IS NULL")
	assert.Contains(t, args, "draft")
	assert.Contains(t, args, "validated")
	assert.Nil(t, args[3], "empty verification url is stored as NULL")
}

func TestDocumentListQuery(t *testing.T) {
	repo := NewDocumentRepo(nil)

	tests := []struct {
		name     string
		filter   billing.ListFilter
		wantTail string
		wantArgs []any
	}{
		{
			name:     "NoFilters",
			filter:   billing.ListFilter{},
			wantTail: "WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC",
			wantArgs: []any{"t1"},
		},
		{
			name:     "StatusAndType",
			filter:   billing.ListFilter{Status: billing.StatusIssued, Type: billing.TypeInvoice, Limit: 20},
			wantTail: "WHERE tenant_id = $1 AND status = $2 AND type = $3 ORDER BY created_at DESC, id DESC LIMIT 20",
			wantArgs: []any{"t1", "issued", "invoice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := repo.listQuery("t1", tt.filter).ToSql()
			require.NoError(t, err)
			assert.Contains(t, sql, "FROM billing_documents "+tt.wantTail)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestDefaultSeriesQuery_PrefersDefaultThenOldest(t *testing.T) {
	sql, args, err := defaultSeriesQuery("t1", "invoice").ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE status = $1 AND tenant_id = $2 AND type = $3")
	assert.Contains(t, sql, "ORDER BY is_default DESC, created_at LIMIT 1")
	assert.Equal(t, []any{"active", "t1", "invoice"}, args)
}

func TestRetryableQuery(t *testing.T) {
	sql, args, err := retryableQuery("t1", 5, 50).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE tenant_id = $1 AND attempts < $2 ORDER BY created_at LIMIT 50")
	assert.Equal(t, []any{"t1", 5}, args)
}
