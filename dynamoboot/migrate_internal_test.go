package dynamoboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	migrations := []*Migration{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	pending, err := pendingMigrations(migrations, []MigrationRecord{{ID: "1"}, {ID: "2"}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "3", pending[0].ID)

	pending, err = pendingMigrations(migrations, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestPendingMigrations_ErrorWhenOutOfOrder(t *testing.T) {
	_, err := pendingMigrations([]*Migration{{ID: "2"}}, []MigrationRecord{{ID: "1"}})

	assert.EqualError(t, err,
		`unexpected migration id "2", was expecting id "1" (you can only add new migrations at the end)`)
}

func TestPendingMigrations_ErrorMigrationMissing(t *testing.T) {
	_, err := pendingMigrations(nil, []MigrationRecord{{ID: "1"}})

	assert.EqualError(t, err,
		`missing migration "1"; you're not allowed to delete migrations that have already run`)
}
