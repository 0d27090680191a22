package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDBError(t *testing.T) {
	assert.NoError(t, DBError("op", nil))

	err := DBError("get schedule", gorm.ErrRecordNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get schedule")

	err = DBError("create scene", gorm.ErrDuplicatedKey)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NotErrorIs(t, err, ErrPersistence)

	err = DBError("save schedule", errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "connection reset")
}
