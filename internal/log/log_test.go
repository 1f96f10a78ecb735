package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "info"},
		{in: "debug", want: "debug"},
		{in: "WARNING", want: "warn"},
		{in: " trace ", want: "trace"},
		{in: "error", want: "error"},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := SetLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, GetLogLevel())
		})
	}
	require.NoError(t, SetLogLevel("info"))
}

func TestTraceIsGated(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		_ = SetLogLevel("info")
		SetOutput(os.Stderr)
	})

	require.NoError(t, SetLogLevel("debug"))
	buf.Reset()
	LogTraceWithFields("test", "hidden", nil)
	assert.Empty(t, buf.String())

	require.NoError(t, SetLogLevel("trace"))
	LogTraceWithFields("test", "visible", map[string]any{"k": "v"})
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "component=test")
}
