package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "precedents", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"precedents"}, []string{"source_term", "target_row"}).WillReturnResult(3)

	rows := [][]any{{"sundry debtors", 64}, {"sundry creditors", 38}, {"sales", 5}}
	n, err := CopyFrom(context.Background(), mock, "precedents", []string{"source_term", "target_row"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"precedents"}, []string{"source_term"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"sales"}}
	_, err = CopyFrom(context.Background(), mock, "precedents", []string{"source_term"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO precedents")
	assert.NoError(t, mock.ExpectationsWereMet())
}
