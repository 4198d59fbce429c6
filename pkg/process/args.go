package process

import "fmt"

// ParseArgs splits a command-line fragment into argv without invoking a
// shell. Single and double quotes group words; backslash escapes one rune.
func ParseArgs(input string) ([]string, error) {
	var args []string
	var buf []rune
	inWord := false
	var quote rune
	escaped := false

	for _, r := range input {
		if escaped {
			buf = append(buf, r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf = append(buf, r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, string(buf))
				buf = buf[:0]
				inWord = false
			}
		default:
			buf = append(buf, r)
			inWord = true
		}
	}
	if escaped || quote != 0 {
		return nil, fmt.Errorf("unterminated escape or quote")
	}
	if inWord {
		args = append(args, string(buf))
	}
	return args, nil
}
