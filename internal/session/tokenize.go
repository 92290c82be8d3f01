package session

// maxTokens bounds the arguments of one command line.
const maxTokens = 256

// Args is a tokenised console command.
type Args struct {
	line    string
	argv    []string
	offsets []int
}

// Tokenize splits a command line into arguments. Whitespace separates
// arguments, double quotes group them and "//" starts a comment that runs
// to the end of the line.
func Tokenize(line string) *Args {
	a := &Args{line: line}
	i := 0
	for len(a.argv) < maxTokens {
		for i < len(line) && line[i] <= ' ' {
			i++
		}
		if i >= len(line) {
			break
		}
		if line[i] == '/' && i+1 < len(line) && line[i+1] == '/' {
			break
		}

		start := i
		if line[i] == '"' {
			i++
			j := i
			for j < len(line) && line[j] != '"' {
				j++
			}
			a.argv = append(a.argv, line[i:j])
			a.offsets = append(a.offsets, start)
			i = j + 1
			continue
		}

		for i < len(line) && line[i] > ' ' {
			i++
		}
		a.argv = append(a.argv, line[start:i])
		a.offsets = append(a.offsets, start)
	}
	return a
}

// Argc returns the number of arguments.
func (a *Args) Argc() int {
	return len(a.argv)
}

// Argv returns argument i, or "" when it does not exist.
func (a *Args) Argv(i int) string {
	if i < 0 || i >= len(a.argv) {
		return ""
	}
	return a.argv[i]
}

// All returns a copy of the arguments.
func (a *Args) All() []string {
	return append([]string(nil), a.argv...)
}

// RawFrom returns the untokenised remainder of the line starting at
// argument i, with trailing whitespace removed.
func (a *Args) RawFrom(i int) string {
	if i < 0 || i >= len(a.offsets) {
		return ""
	}
	s := a.line[a.offsets[i]:]
	end := len(s)
	for end > 0 && s[end-1] <= ' ' {
		end--
	}
	return s[:end]
}
