package filetail

import (
	"io"
	"os"
	"strings"
)

const scanBlockSize = 4096

// backscan walks the file backward from its end in fixed-size blocks and
// collects up to limit non-empty lines accepted by the predicate. An
// unterminated final line counts like any other. The result is in file
// order, and the returned offset is the end position live reads resume from.
func backscan(file *os.File, limit int, accept func(string) bool) ([]string, int64, error) {
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}

	collected := make([]string, 0, limit)
	carry := ""
	offset := size
	for offset > 0 && len(collected) < limit {
		blockSize := int64(scanBlockSize)
		if offset < blockSize {
			blockSize = offset
		}
		offset -= blockSize
		block := make([]byte, blockSize)
		if _, err := file.ReadAt(block, offset); err != nil {
			return nil, 0, err
		}

		segments := strings.Split(string(block)+carry, "\n")
		first := 1
		if offset == 0 {
			first = 0
			carry = ""
		} else {
			carry = segments[0]
		}
		for index := len(segments) - 1; index >= first && len(collected) < limit; index-- {
			line := strings.TrimSuffix(segments[index], "\r")
			if line == "" {
				continue
			}
			if !accept(line) {
				continue
			}
			collected = append(collected, line)
		}
	}

	// Collected newest first while scanning backward; flip to file order.
	for left, right := 0, len(collected)-1; left < right; left, right = left+1, right-1 {
		collected[left], collected[right] = collected[right], collected[left]
	}
	return collected, size, nil
}
