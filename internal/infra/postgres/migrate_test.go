package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/runs?sslmode=disable":   "pgx5://u:p@db:5432/runs?sslmode=disable",
		"postgresql://u:p@db:5432/runs?sslmode=disable": "pgx5://u:p@db:5432/runs?sslmode=disable",
		"pgx5://u:p@db:5432/runs":                       "pgx5://u:p@db:5432/runs",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}
