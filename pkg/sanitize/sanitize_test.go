package sanitize

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	in := "call me at +90 532 123 45 67 or mail ayse@example.com"
	out := RedactPII(in)
	assert.NotContains(t, out, "ayse@example.com")
	assert.NotContains(t, out, "532 123")
	assert.Contains(t, out, "[redacted email]")
	assert.Contains(t, out, "[redacted phone]")
}

func TestSummaryCutsAtWord(t *testing.T) {
	assert.Equal(t, "short", Summary("short", 10))
	assert.Equal(t, "hello…", Summary("hello wonderful world", 8))
	assert.Equal(t, "abcdefgh…", Summary("abcdefghijkl", 8))
}

func TestSummaryKeepsRunesWhole(t *testing.T) {
	long := "ğüşıöçĞÜŞİÖÇğüşıöç"
	out := Summary(long, 7)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "ğüşıöçĞ…", out)

	// exactly max runes but twice as many bytes stays untouched
	assert.Equal(t, "çğüş", Summary("çğüş", 4))

	out = Summary("Müvekkil duruşmaya katılamayacağını bildirdi", 20)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "Müvekkil duruşmaya…", out)
}

func TestMasks(t *testing.T) {
	assert.Equal(t, "*******8901", MaskNationalID("12345678901"))
	assert.Equal(t, "123", MaskNationalID("123"))
	assert.Equal(t, "*********67", MaskPhone("05321234567"))
	assert.Equal(t, "a***@example.com", MaskEmail("ayse@example.com"))
	assert.Equal(t, "x", MaskEmail("x"))
	assert.Equal(t, "Ö***@example.com", MaskEmail("Ömer@example.com"))
	assert.Equal(t, "*öğış", MaskNationalID("çöğış"))
}
