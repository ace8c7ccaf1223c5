package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

func TestBuildListWhere(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		where, args := buildListWhere(domain.ListFilter{Page: 1, Limit: 20})
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("placeholders follow argument order", func(t *testing.T) {
		status := domain.StatusSent
		staff := "staff-1"
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		where, args := buildListWhere(domain.ListFilter{Status: &status, StaffID: &staff, From: &from})
		assert.Equal(t, " WHERE status = $1 AND staff_id = $2 AND created_at >= $3", where)
		assert.Equal(t, []any{status, staff, from}, args)
	})
}
