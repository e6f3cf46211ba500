package filetail

import (
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit bounds how many leading bytes type detection may consume.
const sniffLimit = 3072

// sniffNonText reports the detected MIME type when the file's leading
// bytes do not look like line-oriented text. Empty files and detection
// errors pass as text; the sniff only ever adds a warning, never a
// failure.
func sniffNonText(file *os.File) (string, bool) {
	info, err := file.Stat()
	if err != nil || info.Size() == 0 {
		return "", false
	}
	detected, err := mimetype.DetectReader(io.LimitReader(file, sniffLimit))
	if err != nil {
		return "", false
	}
	for current := detected; current != nil; current = current.Parent() {
		if current.Is("text/plain") {
			return "", false
		}
	}
	return detected.String(), true
}
