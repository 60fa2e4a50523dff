package vlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/trustchain-audit/trustchain/pkg/record"
)

// headerSize is the width, in bytes, of the big-endian length prefix on
// every framed record in chain.log.
const headerSize = 4

// recordSeparator is written after every frame. It is advisory only — the
// length prefix is authoritative — and exists purely to make chain.log
// pleasant to eyeball with a text viewer.
const recordSeparator = '\n'

// writeFrame appends one length-prefixed, newline-terminated JSON record to
// w and returns the number of bytes written.
func writeFrame(w io.Writer, r *record.Record) (int, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("vlog: marshal record: %w", err)
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	n, err := w.Write(header[:])
	if err != nil {
		return n, err
	}
	n2, err := w.Write(payload)
	n += n2
	if err != nil {
		return n, err
	}
	n3, err := w.Write([]byte{recordSeparator})
	n += n3
	return n, err
}

// iterFrames reads framed records from r in order, calling fn for each
// successfully decoded record. It stops cleanly — without error — at EOF or
// at a trailing partial frame (a length prefix promising more bytes than are
// actually present), matching the crash-safety contract: a truncated final
// write is simply invisible, not a fatal error.
func iterFrames(r io.Reader, fn func(*record.Record) error) error {
	br := bufio.NewReader(r)
	for {
		header := make([]byte, headerSize)
		n, err := io.ReadFull(br, header)
		if err != nil || n < headerSize {
			return nil // clean EOF or truncated header: stop, don't error
		}
		length := binary.BigEndian.Uint32(header)

		payload := make([]byte, length)
		n, err = io.ReadFull(br, payload)
		if err != nil || uint32(n) < length {
			return nil // truncated payload: discard trailing partial frame
		}

		// consume the advisory separator if present; its absence is not fatal
		sep := make([]byte, 1)
		if n, _ := io.ReadFull(br, sep); n == 0 {
			// no separator (final byte of file) — fine, we already have the payload
		}

		var rec record.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("vlog: corrupt frame: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
}
