package executor

import (
	"unicode/utf8"

	"github.com/bhandras/codetutor/protocol/wire"
)

// streamWriter turns each write of the child process into one output chunk.
// A multi-byte character split across writes is held back until complete.
type streamWriter struct {
	stream  wire.Stream
	sink    *sink
	pending []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	data := append(w.pending, p...)
	cut := completePrefix(data)
	w.pending = append([]byte(nil), data[cut:]...)
	if cut == 0 {
		return len(p), nil
	}
	if err := w.sink.write(w.stream, string(data[:cut])); err != nil {
		return 0, err
	}
	return len(p), nil
}

// flush emits any held-back bytes.
func (w *streamWriter) flush() {
	if len(w.pending) == 0 {
		return
	}
	_ = w.sink.write(w.stream, string(w.pending))
	w.pending = nil
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
