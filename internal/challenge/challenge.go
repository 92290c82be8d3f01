// Package challenge implements the forced reconnect check that keeps
// scripted clients out. A new client is stuffed a randomised chain of
// console commands that, when executed by a real client, stores a secret
// value in a randomly named variable and makes the client reconnect. On the
// second connection the server asks for that variable and only lets the
// client spawn when the echoed value matches.
package challenge

import (
	"fmt"
	"math/rand"
)

// junkChars is the alphabet the variable names and values are drawn from.
const junkChars = "!~#``&'()*`+,-./~01~2`3`4~5`67`89:~<=`>?@~ab~cd`ef~j~k~lm`no~pq`rst`uv`w``x`yz[`\\]^_`|~"

const (
	junkCount  = 8
	junkLength = 15
)

// Challenge is one issued reconnect challenge.
type Challenge struct {
	junk    [junkCount]string
	swapped bool
}

// New draws a challenge from rng.
func New(rng *rand.Rand) *Challenge {
	c := &Challenge{}
	for i := range c.junk {
		buf := make([]byte, junkLength)
		for j := range buf {
			n := rng.Int31() | rng.Int31()>>8
			n %= int32(len(junkChars))
			buf[j] = junkChars[n]
		}
		c.junk[i] = string(buf)
	}
	c.swapped = rng.Int31()&1 == 0
	return c
}

// Var is the name of the client variable that will hold the secret.
func (c *Challenge) Var() string {
	return c.junk[2]
}

// Val is the secret the client must echo back.
func (c *Challenge) Val() string {
	return c.junk[3]
}

// Commands returns the console lines to stuff, in order. force is the
// operator configured reconnect command the chain ends up executing.
func (c *Challenge) Commands(force string) []string {
	j := c.junk
	cmds := []string{
		fmt.Sprintf("set %s set\n", j[0]),
		fmt.Sprintf("$%s %s connect\n", j[0], j[1]),
	}

	store := fmt.Sprintf("$%s %s %s\n", j[0], j[2], j[3])
	reconnect := fmt.Sprintf("$%s %s %s\n", j[0], j[4], force)
	noise := fmt.Sprintf("$%s %s %s\n", j[0], j[5], j[6])
	if c.swapped {
		cmds = append(cmds, reconnect, noise, store)
	} else {
		cmds = append(cmds, store, reconnect, noise)
	}

	return append(cmds,
		fmt.Sprintf("$%s %s \"\"\n", j[0], j[0]),
		fmt.Sprintf("$%s $%s\n", j[1], j[4]),
	)
}

// Matches reports whether val is the echoed secret of a challenge whose
// value was stored as expected.
func Matches(expected, val string) bool {
	return expected != "" && val == expected
}
