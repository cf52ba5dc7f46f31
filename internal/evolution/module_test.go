package evolution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_UnmarshalIntegerKeys(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   []string
	}{
		{
			name:   "inferred from literals",
			record: `{"id":"a-1","parameters":{"rsi_period":14,"ma_fast":9,"tp_pct":2.5,"sl_pct":1.0,"scale":1e3}}`,
			want:   []string{"ma_fast", "rsi_period"},
		},
		{
			name:   "declared keys win",
			record: `{"id":"a-2","parameters":{"period":20,"tp_pct":3},"integer_params":["period"]}`,
			want:   []string{"period"},
		},
		{
			name:   "declared empty",
			record: `{"id":"a-3","parameters":{"tp_pct":3},"integer_params":[]}`,
			want:   []string{},
		},
		{
			name:   "null declaration",
			record: `{"id":"a-4","parameters":{"window":5},"integer_params":null}`,
			want:   []string{"window"},
		},
		{
			name:   "no parameters",
			record: `{"id":"a-5"}`,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Module
			require.NoError(t, json.Unmarshal([]byte(tt.record), &m))
			assert.Equal(t, tt.want, m.IntegerKeys)
		})
	}
}

func TestModule_UnmarshalRejectsBadParameters(t *testing.T) {
	var m Module
	assert.Error(t, json.Unmarshal([]byte(`{"id":"bad-1","parameters":{"ma_fast":"ten"}}`), &m))
}

func TestModule_ResolvedIntegerKeys(t *testing.T) {
	m := testParent()
	assert.Equal(t, []string{"ma_fast", "ma_slow"}, m.ResolvedIntegerKeys())

	m.IntegerKeys = []string{"tp_pct", "missing"}
	assert.Equal(t, []string{"tp_pct"}, m.ResolvedIntegerKeys())

	m.IntegerKeys = []string{}
	assert.NotNil(t, m.ResolvedIntegerKeys())
	assert.Empty(t, m.ResolvedIntegerKeys())
}
