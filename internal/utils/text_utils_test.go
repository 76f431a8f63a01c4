package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"case and space", "  Verify   YOUR\tAccount ", "verify your account"},
		{"fullwidth", "ＰａｙＰａｌ", "paypal"},
		{"ligature", "ﬁnal notice", "final notice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"win", "a", "free", "iphone", "now"}, Tokenize("win a free iphone... now!"))
	assert.Empty(t, Tokenize("  !!! "))
}

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "short", tp.TruncateText("short", 0))

	out := tp.ProcessText("héllo world", 2)
	assert.Equal(t, "h\n[... truncated ...]", out)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject("Sure! {\"a\":1} done"))
	assert.Equal(t, "no json", ExtractJSONObject("no json"))
}
