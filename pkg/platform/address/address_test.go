package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"lowercase hex", "0x" + strings.Repeat("a", 40), true},
		{"uppercase hex", "0x" + strings.Repeat("A", 40), true},
		{"mixed case digits", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"zero address", Zero, true},
		{"too short", "0x123", false},
		{"empty", "", false},
		{"missing prefix", strings.Repeat("a", 42), false},
		{"uppercase prefix", "0X" + strings.Repeat("a", 40), false},
		{"non-hex digit", "0x" + strings.Repeat("g", 40), false},
		{"too long", "0x" + strings.Repeat("a", 41), false},
		{"trailing space", "0x" + strings.Repeat("a", 39) + " ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.input))
		})
	}
}

func TestOrZero(t *testing.T) {
	valid := "0x" + strings.Repeat("b", 40)
	assert.Equal(t, valid, OrZero(valid))
	assert.Equal(t, Zero, OrZero(""))
	assert.Equal(t, Zero, OrZero("0xnope"))
}

func TestIsTxHash(t *testing.T) {
	assert.True(t, IsTxHash("0x"+strings.Repeat("1", 64)))
	assert.False(t, IsTxHash("0x"+strings.Repeat("1", 40)))
	assert.False(t, IsTxHash(""))
	assert.False(t, IsTxHash("0x"+strings.Repeat("z", 64)))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases hex digits", "0x" + strings.Repeat("AB", 20), "0x" + strings.Repeat("ab", 20)},
		{"checksum casing", "0x52908400098527886E0F7030069857D2E4169EE7", "0x52908400098527886e0f7030069857d2e4169ee7"},
		{"trims surrounding space", " 0x" + strings.Repeat("c", 40) + "\n", "0x" + strings.Repeat("c", 40)},
		{"uppercase prefix is left invalid", "0X" + strings.Repeat("a", 40), "0X" + strings.Repeat("a", 40)},
		{"malformed input unchanged", "0xnope", "0xnope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, IsValid(tt.want), IsValid(got))
		})
	}
	assert.Equal(t, Normalize("0x"+strings.Repeat("ab", 20)), Normalize("0x"+strings.Repeat("AB", 20)))
}
