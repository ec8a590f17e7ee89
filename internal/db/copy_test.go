package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{
		Table:        "pipeline_items",
		Columns:      []string{"item_id"},
		ConflictKeys: []string{"item_id"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_RequiresColumns(t *testing.T) {
	_, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{Table: "t"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkInsertIgnore(context.Background(), nil, InsertConfig{Table: "t", Columns: []string{"a"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"pipeline_items"`, sanitizeTable("pipeline_items"))
	assert.Equal(t, `"pipeline"."items"`, sanitizeTable("pipeline.items"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"a", "b"`, quoteAndJoin([]string{"a", "b"}))
}
