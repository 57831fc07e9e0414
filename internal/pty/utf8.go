package pty

import (
	"strings"
	"unicode/utf8"
)

// Utf8Carry frames a raw PTY byte stream into valid UTF-8 text.
//
// A read may end in the middle of a multi-byte sequence. Feed holds back the
// incomplete trailing sequence (at most utf8.UTFMax-1 bytes) and prepends it to
// the next chunk, so a character split across reads decodes exactly as if it
// had arrived in one read. Bytes that can never become valid are replaced with
// U+FFFD rather than carried, so the stream cannot stall on garbage.
type Utf8Carry struct {
	pending []byte
}

// Feed consumes one chunk and returns the text that is ready to forward.
// It returns "" when everything is still an incomplete sequence.
func (c *Utf8Carry) Feed(chunk []byte) string {
	var data []byte
	if len(c.pending) == 0 {
		data = chunk
	} else {
		data = append(c.pending, chunk...)
		c.pending = nil
	}

	cut := incompleteTail(data)
	if cut < len(data) {
		c.pending = append([]byte(nil), data[cut:]...)
	}
	if cut == 0 {
		return ""
	}

	ready := data[:cut]
	if utf8.Valid(ready) {
		return string(ready)
	}
	return strings.ToValidUTF8(string(ready), "\uFFFD")
}

// Pending returns the number of bytes held back for the next Feed.
func (c *Utf8Carry) Pending() int {
	return len(c.pending)
}

// incompleteTail returns the index at which a trailing, not yet complete
// UTF-8 sequence starts, or len(b) if b does not end mid-sequence.
func incompleteTail(b []byte) int {
	limit := len(b) - (utf8.UTFMax - 1)
	if limit < 0 {
		limit = 0
	}
	for i := len(b) - 1; i >= limit; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
