package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatescan/internal/model"
)

func TestQueryRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceCatalog(ctx, nil, []model.Ticket{
		createTestTicket("t1", 1, 3),
		createTestTicket("t2", 0, 1),
	}))

	rows, err := s.QueryRows(ctx, `SELECT ticket_id, scan_count FROM tickets WHERE ticket_id = ?`, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0]["ticket_id"])
	assert.Equal(t, int64(1), rows[0]["scan_count"])
}

func TestQueryRows_NoMatchIsEmpty(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.QueryRows(context.Background(), `SELECT * FROM tickets`)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestQueryRows_BadQuery(t *testing.T) {
	s := createTestStore(t)

	_, err := s.QueryRows(context.Background(), `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestQueryRows_Closed(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.QueryRows(context.Background(), `SELECT 1`)
	assert.True(t, IsNotInitialized(err))
}
