package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsSerializationFailure(t *testing.T) {
	wrapped := fmt.Errorf("cas update: %w", &pgconn.PgError{Code: "40001"})
	assert.True(t, IsSerializationFailure(wrapped))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("plain")))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(nil))
}

func TestSnapshotReadIsReadOnlyRepeatableRead(t *testing.T) {
	assert.Equal(t, pgx.RepeatableRead, SnapshotRead.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, SnapshotRead.AccessMode)
}
