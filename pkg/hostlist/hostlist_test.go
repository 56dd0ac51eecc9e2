package hostlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr  string
		names []string
	}{
		{"n1", []string{"n1"}},
		{"n[1-3]", []string{"n1", "n2", "n3"}},
		{"n[1-2,7]", []string{"n1", "n2", "n7"}},
		{"n[1-4,7],login0", []string{"n1", "n2", "n3", "n4", "n7", "login0"}},
		{"rack[01-03]", []string{"rack01", "rack02", "rack03"}},
		{"n[1-2]-ib", []string{"n1-ib", "n2-ib"}},
		{"a,b,a", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			hl, err := Parse(tt.expr)
			require.NoError(t, err)

			assert.Equal(t, tt.names, hl.Names())
			assert.Equal(t, len(tt.names), hl.Count())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{"", "n[", "n]", "n[]", "n[a-b]", "n[5-2]"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestFind(t *testing.T) {
	hl, err := Parse("n[1-4,7]")
	require.NoError(t, err)

	assert.Equal(t, 0, hl.Find("n1"))
	assert.Equal(t, 3, hl.Find("n4"))
	assert.Equal(t, 4, hl.Find("n7"))
	assert.Equal(t, -1, hl.Find("n5"))

	assert.Equal(t, 1, Find("n[1-4]", "n2"))
	assert.Equal(t, -1, Find("n[", "n2"))
}

func TestHost(t *testing.T) {
	hl, err := Parse("n[1-3]")
	require.NoError(t, err)

	assert.Equal(t, "n2", hl.Host(1))
}
