// Package framer turns a raw byte stream from a modem transport into a
// sequence of classified AT protocol lines, using a ringbuffer.Ringbuffer
// to stage bytes between reads.
//
// It exists alongside package at's bufio.SplitFunc-based Splitter, which
// suits a blocking bufio.Scanner loop over a Transport; modem.Modem does
// not use the Splitter, since it hands the link to package device. The
// device supervisor loop wants to interleave reading with queue timeouts and write
// opportunities on a single goroutine, so it pulls bytes off the transport
// itself and feeds them through a Framer, pulling out complete lines as
// they become available rather than blocking a dedicated scan loop.
package framer

import (
	"github.com/nexmodem/qcore/at"
	"github.com/nexmodem/qcore/ringbuffer"
)

// Line is one classified unit of modem output.
type Line struct {
	Text string
	Type at.ResponseType
}

// Framer accumulates bytes pushed via Feed and yields classified lines via
// Next. It is not safe for concurrent use.
type Framer struct {
	rb *ringbuffer.Ringbuffer
}

// New returns a Framer backed by a ringbuffer of the given capacity. The
// capacity bounds the largest unframed burst (e.g. a multi-line +CLCC
// dump, or a long SMS body) that can be staged between Feed calls.
func New(capacity int) *Framer {
	return &Framer{rb: ringbuffer.New(capacity)}
}

// Feed appends freshly read bytes to the internal buffer.
func (f *Framer) Feed(p []byte) error {
	_, err := f.rb.Write(p)
	return err
}

// Next extracts the next complete line, if one is buffered. A line is
// either a CRLF-terminated run of bytes, or the literal SMS prompt "> "
// which is not CRLF-terminated. ok is false when no complete line is
// available yet and the caller should read more from the transport.
//
// When the buffer starts with "> " that is always the prompt, since a
// genuine CRLF-terminated line can never begin with it (the modem emits
// the prompt only as a standalone token). Otherwise the next CRLF ends
// the line.
func (f *Framer) Next() (Line, bool) {
	if f.rb.MemCmp([]byte(at.Prompt)) {
		f.rb.Advance(len(at.Prompt))
		return Line{Text: at.Prompt, Type: at.TypePrompt}, true
	}

	first, second, ok := f.rb.ReadUntilMemIOV([]byte(at.CRLF))
	if !ok {
		return Line{}, false
	}
	total := len(first) + len(second)
	line := make([]byte, 0, total-len(at.CRLF))
	line = append(line, first...)
	line = append(line, second...)
	line = line[:len(line)-len(at.CRLF)]
	f.rb.Advance(total)

	text := string(line)
	return Line{Text: text, Type: at.Classify(text)}, true
}

// Pending reports how many unframed bytes are currently buffered.
func (f *Framer) Pending() int { return f.rb.Used() }

// ReadSMSBody consumes buffered bytes up to and including the first
// terminator byte, without line framing, and returns them without the
// terminator: a PDU-mode or text-mode SMS body is terminated by Ctrl-Z,
// not CRLF. ok is false, and nothing is consumed, when no terminator is
// buffered yet.
func (f *Framer) ReadSMSBody(terminator byte) ([]byte, bool) {
	if first, second, ok := f.rb.ReadUntilCharIOV(terminator); ok {
		total := len(first) + len(second)
		body := make([]byte, 0, total-1)
		body = append(body, first...)
		body = append(body, second...)
		f.rb.Advance(total)
		return body[:len(body)-1], true
	}
	return nil, false
}

// Reset discards any partially-framed data, so that framing resumes from
// a clean slate (e.g. after the link desynchronizes).
func (f *Framer) Reset() { f.rb.Reset() }
