// Package sse implements the byte-level framing of Server-Sent Events:
// splitting an upstream body into lines, extracting data payloads, and
// writing events to a client.
package sse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize is the largest line the buffer will hold before giving up.
// Completion events for long answers stay well below this.
const MaxLineSize = 1 << 20

// DonePayload is the sentinel OpenAI-compatible APIs send as the last event.
const DonePayload = "[DONE]"

const dataPrefix = "data: "

// ErrLineTooLong is returned by Feed when a single line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("sse: line exceeds maximum size")

// LineBuffer accumulates raw bytes and hands out complete lines. Splitting
// happens on bytes before decoding, so multi-byte UTF-8 sequences that are
// cut across reads reassemble before they are turned into text.
// The zero value is ready to use.
type LineBuffer struct {
	buf []byte
}

// Feed appends p and returns every line it completed, without the trailing
// newline (and "\r" for CRLF streams). Invalid UTF-8 in a completed line is
// replaced with U+FFFD. Bytes after the last newline stay buffered.
func (b *LineBuffer) Feed(p []byte) ([]string, error) {
	b.buf = append(b.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(b.buf[:i], []byte{'\r'})
		lines = append(lines, strings.ToValidUTF8(string(line), "\uFFFD"))
		b.buf = b.buf[i+1:]
	}

	if len(b.buf) > MaxLineSize {
		return lines, ErrLineTooLong
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines, nil
}

// Pending returns the number of buffered bytes that do not yet form a line.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Reset drops any buffered bytes.
func (b *LineBuffer) Reset() {
	b.buf = nil
}

// Data returns the payload of a "data: " line. Other lines (comments, event
// names, blank separators) report false.
func Data(line string) (string, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return line[len(dataPrefix):], true
}

// IsDone reports whether payload is exactly the end-of-stream sentinel.
// Padded variants are not the sentinel.
func IsDone(payload string) bool {
	return payload == DonePayload
}

// Event is one outgoing server-sent event.
type Event struct {
	Name string
	Data []byte
}

// WriteEvent writes ev in wire format. Data containing newlines is split
// into several data fields as the format requires.
func WriteEvent(w io.Writer, ev Event) error {
	var buf bytes.Buffer
	if ev.Name != "" {
		fmt.Fprintf(&buf, "event: %s\n", ev.Name)
	}
	if len(ev.Data) == 0 {
		buf.WriteString("data:\n")
	} else {
		for _, line := range bytes.Split(ev.Data, []byte{'\n'}) {
			buf.WriteString(dataPrefix)
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	return err
}
