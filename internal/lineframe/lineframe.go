// Package lineframe incrementally splits a byte stream into complete lines,
// carrying the unterminated tail of each chunk across calls.
package lineframe

import "strings"

// Split appends chunk to the pending fragment and splits the result into
// complete lines. Terminators are stripped, a trailing "\r" is dropped so
// CRLF input frames like LF, and the text after the last terminator becomes
// the new pending fragment. The fragment never contains a newline.
func Split(pending string, chunk []byte) ([]string, string) {
	if len(chunk) == 0 {
		return nil, pending
	}
	parts := strings.Split(pending+string(chunk), "\n")
	rest := parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	for index, line := range lines {
		lines[index] = strings.TrimSuffix(line, "\r")
	}
	return lines, rest
}
