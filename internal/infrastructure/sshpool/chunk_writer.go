package sshpool

import (
	"unicode/utf8"

	"github.com/doeshing/opsai/internal/domain"
)

// chunkWriter forwards writes to a callback as tagged output chunks. A
// multi-byte rune split across writes is held back until it is complete.
type chunkWriter struct {
	stream  domain.OutputStream
	emit    func(domain.OutputChunk)
	pending []byte
}

func newChunkWriter(stream domain.OutputStream, emit func(domain.OutputChunk)) *chunkWriter {
	return &chunkWriter{stream: stream, emit: emit}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}

	cut := incompleteTail(data)
	if cut < len(data) {
		w.pending = append([]byte(nil), data[cut:]...)
	}
	if cut > 0 {
		w.emit(domain.OutputChunk{Stream: w.stream, Data: string(data[:cut])})
	}
	return len(p), nil
}

// Flush emits whatever is held back, valid or not.
func (w *chunkWriter) Flush() {
	if len(w.pending) == 0 {
		return
	}
	w.emit(domain.OutputChunk{Stream: w.stream, Data: string(w.pending)})
	w.pending = nil
}

// incompleteTail returns the offset of a trailing partial rune, or len(data).
func incompleteTail(data []byte) int {
	for i := len(data) - 1; i >= 0 && i > len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			break
		}
	}
	return len(data)
}
