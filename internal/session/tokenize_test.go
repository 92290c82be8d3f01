package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"new", []string{"new"}},
		{"  say   hello world  ", []string{"say", "hello", "world"}},
		{`say "hello world" again`, []string{"say", "hello world", "again"}},
		{`say "unterminated quote`, []string{"say", "unterminated quote"}},
		{"say hi // the rest is ignored", []string{"say", "hi"}},
		{`say "a // b"`, []string{"say", "a // b"}},
		{"download\tmaps/q2dm1.bsp\t100", []string{"download", "maps/q2dm1.bsp", "100"}},
	}

	for _, tt := range tests {
		args := Tokenize(tt.line)
		assert.Equal(t, len(tt.want), args.Argc(), tt.line)
		for i, w := range tt.want {
			assert.Equal(t, w, args.Argv(i), tt.line)
		}
	}
}

func TestArgsOutOfRange(t *testing.T) {
	args := Tokenize("lag")
	assert.Equal(t, "", args.Argv(1))
	assert.Equal(t, "", args.Argv(-1))
	assert.Equal(t, "", args.RawFrom(3))
	assert.Equal(t, []string{"lag"}, args.All())
}

func TestRawFrom(t *testing.T) {
	args := Tokenize("\177c version q2pro  r1234 \"Linux\"  \n")
	assert.Equal(t, "q2pro  r1234 \"Linux\"", args.RawFrom(2))
	assert.Equal(t, "version q2pro  r1234 \"Linux\"", args.RawFrom(1))
}

func TestTokenizeBoundsArguments(t *testing.T) {
	args := Tokenize(strings.Repeat("x ", maxTokens+10))
	assert.Equal(t, maxTokens, args.Argc())
}
