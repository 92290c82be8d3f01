package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoValueForKey(t *testing.T) {
	info := `\name\player\skin\male/grunt\rate\25000`
	assert.Equal(t, "player", InfoValueForKey(info, "name"))
	assert.Equal(t, "25000", InfoValueForKey(info, "rate"))
	assert.Equal(t, "", InfoValueForKey(info, "msg"))
	assert.Equal(t, "", InfoValueForKey("", "name"))
}

func TestInfoSetValueForKey(t *testing.T) {
	info, ok := InfoSetValueForKey(`\name\a\rate\100`, "name", "b")
	assert.True(t, ok)
	assert.Equal(t, `\rate\100\name\b`, info)

	info, ok = InfoSetValueForKey(info, "rate", "")
	assert.True(t, ok)
	assert.Equal(t, `\name\b`, info)

	for _, bad := range [][2]string{
		{"na;me", "x"},
		{"name", `x"y`},
		{"name", `x\y`},
		{"", "x"},
		{strings.Repeat("k", MaxInfoKey), "x"},
		{"name", strings.Repeat("v", MaxInfoValue)},
	} {
		got, ok := InfoSetValueForKey(`\name\b`, bad[0], bad[1])
		assert.False(t, ok, "key %q value %q", bad[0], bad[1])
		assert.Equal(t, `\name\b`, got)
	}
}

func TestInfoSetValueForKeyTooLong(t *testing.T) {
	info := ""
	var ok bool
	for i := 0; i < 9; i++ {
		info, ok = InfoSetValueForKey(info, "k"+string(rune('a'+i)), strings.Repeat("v", 50))
		assert.True(t, ok)
	}
	_, ok = InfoSetValueForKey(info, "kz", strings.Repeat("v", 50))
	assert.False(t, ok)
}

func TestInfoValidate(t *testing.T) {
	assert.True(t, InfoValidate(""))
	assert.True(t, InfoValidate(`\name\player\rate\25000`))
	assert.False(t, InfoValidate(`name\player`))
	assert.False(t, InfoValidate(`\name`))
	assert.False(t, InfoValidate(`\name\pla;yer`))
	assert.False(t, InfoValidate("\\name\\a\x01b"))
	assert.False(t, InfoValidate(`\`+strings.Repeat("x", MaxInfoString)+`\v`))
}

func TestInfoPairs(t *testing.T) {
	pairs := InfoPairs(`\a\1\b\2`)
	assert.Equal(t, [][2]string{{"a", "1"}, {"b", "2"}}, pairs)
	assert.Nil(t, InfoPairs(""))
}
