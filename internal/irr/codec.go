package irr

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// Frame is one decoded protocol unit from the response stream.
//
// The server frames replies as single-letter status lines:
//
//	A<len>\n<len bytes>   data block, possibly several per query
//	C\n                   success, end of data for the current query
//	D\n                   key not found
//	E\n                   multiple copies of key in one database
//	F<message>\n          error
type Frame struct {
	Status  byte
	Payload []byte // data for A frames, message for F frames
}

// Decoder incrementally parses received bytes into frames. The transport
// delivers bytes, not messages; Feed accepts arbitrary fragmentation and
// retains any incomplete tail between calls.
type Decoder struct {
	buf     []byte
	need    int    // payload bytes still owed to the open A frame
	partial []byte // accumulated payload of the open A frame
}

// Pending reports whether the decoder sits mid-frame. Used on connection
// close to distinguish a clean end of stream from a truncated reply.
func (d *Decoder) Pending() bool {
	return d.need > 0 || len(d.buf) > 0
}

// Feed appends buf to the decoder's internal buffer and returns all
// frames completed by it. A malformed status line fails the whole stream;
// framing cannot be resynchronised once broken.
func (d *Decoder) Feed(buf []byte) ([]Frame, error) {
	d.buf = append(d.buf, buf...)

	var frames []Frame
	for {
		if d.need > 0 {
			n := d.need
			if n > len(d.buf) {
				n = len(d.buf)
			}
			d.partial = append(d.partial, d.buf[:n]...)
			d.buf = d.buf[n:]
			d.need -= n
			if d.need > 0 {
				return frames, nil
			}
			frames = append(frames, Frame{Status: 'A', Payload: d.partial})
			d.partial = nil
		}

		nl := bytes.IndexByte(d.buf, '\n')
		if nl < 0 {
			return frames, nil
		}
		line := d.buf[:nl]
		d.buf = d.buf[nl+1:]

		if len(line) == 0 {
			return frames, errors.Wrap(ErrProtocol, "empty reply line")
		}
		switch line[0] {
		case 'A':
			n, err := strconv.Atoi(string(line[1:]))
			if err != nil || n < 0 {
				return frames, errors.Wrapf(ErrProtocol, "bad length indicator %q", line)
			}
			d.need = n
			d.partial = make([]byte, 0, n)
			if n == 0 {
				frames = append(frames, Frame{Status: 'A', Payload: nil})
				d.partial = nil
			}
		case 'C', 'D', 'E':
			if len(line) > 1 {
				return frames, errors.Wrapf(ErrProtocol, "unexpected data after status %q", line)
			}
			frames = append(frames, Frame{Status: line[0]})
		case 'F':
			frames = append(frames, Frame{Status: 'F', Payload: append([]byte(nil), line[1:]...)})
		default:
			return frames, errors.Wrapf(ErrProtocol, "unknown status marker %q", line)
		}
	}
}
