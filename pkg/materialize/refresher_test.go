package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderViewSQL(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		bound map[string]any
		want  string
	}{
		{
			name:  "int literal",
			sql:   "SELECT * FROM t WHERE year = :year",
			bound: map[string]any{"year": int64(2026)},
			want:  "SELECT * FROM t WHERE year = 2026",
		},
		{
			name:  "string literal quoted",
			sql:   "SELECT * FROM t WHERE sector = :sector",
			bound: map[string]any{"sector": "oil & gas"},
			want:  "SELECT * FROM t WHERE sector = 'oil & gas'",
		},
		{
			name:  "embedded quote escaped",
			sql:   "SELECT * FROM t WHERE name = :name",
			bound: map[string]any{"name": "o'brien"},
			want:  "SELECT * FROM t WHERE name = 'o''brien'",
		},
		{
			name:  "longest name wins",
			sql:   "WHERE a = :period_start AND b = :period",
			bound: map[string]any{"period": "q1", "period_start": "q0"},
			want:  "WHERE a = 'q0' AND b = 'q1'",
		},
		{
			name:  "bool and float",
			sql:   "WHERE active = :active AND rate > :rate",
			bound: map[string]any{"active": true, "rate": 2.5},
			want:  "WHERE active = TRUE AND rate > 2.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderViewSQL(tt.sql, tt.bound)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderViewSQLRejectsUnsupportedType(t *testing.T) {
	_, err := RenderViewSQL("WHERE x = :x", map[string]any{"x": []any{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported literal type")
}
