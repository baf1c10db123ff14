package nbd

import (
	"encoding/binary"
	"io"
)

// do wraps rw for easy en-/decoding of binary data. It creates an *encoder
// and calls f with that. The process uses panic/recover for error handling,
// so e should never be passed to a different goroutine.
func do(rw io.ReadWriter, f func(e *encoder)) (err error) {
	sentinel := new(uint8)
	defer func() {
		if v := recover(); v != nil && v != sentinel {
			panic(v)
		}
	}()
	check := func(e error) {
		if e != nil {
			err = e
			panic(sentinel)
		}
	}
	f(&encoder{rw, nil, check})
	return err
}

// encoder provides helper methods for easy de-/encoding of binary data.
// If an error occurs, it calls check, which is expected to panic if it's
// non-nil. If buf is non-nil, the encoder won't write to rw directly, but
// append to buf. That way, nested messages can be buffered before writing
// them out, to determine their length.
type encoder struct {
	rw    io.ReadWriter
	buf   []byte
	check func(error)
}

func (e *encoder) write(b []byte) {
	if e.buf != nil {
		e.buf = append(e.buf, b...)
		return
	}
	if len(b) == 0 {
		// A zero-length Write is a no-op for every real connection type,
		// and some io.ReadWriter implementations (net.Pipe in particular)
		// require a matching Read to rendezvous with it - which the peer
		// never issues for an empty payload. Skip the call entirely.
		return
	}
	_, err := e.rw.Write(b)
	e.check(err)
}

func (e *encoder) writeString(s string) {
	if e.buf != nil {
		e.buf = append(e.buf, s...)
		return
	}
	if len(s) == 0 {
		return
	}
	var err error
	if sw, ok := e.rw.(interface{ WriteString(string) (int, error) }); ok {
		_, err = sw.WriteString(s)
	} else {
		_, err = e.rw.Write([]byte(s))
	}
	e.check(err)
}

// read fills b completely, turning a short read at EOF into io.ErrUnexpectedEOF
// as required by the wire codec's recv_exact semantics: short reads are
// retried by io.ReadFull until b is full or the connection is truly gone.
func (e *encoder) read(b []byte) {
	_, err := io.ReadFull(e.rw, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	e.check(err)
}

func (e *encoder) discard(n uint32) {
	buf := make([]byte, 512)
	for n > 0 {
		if n < uint32(len(buf)) {
			buf = buf[:n]
		}
		e.read(buf)
		n -= uint32(len(buf))
	}
}

func (e *encoder) uint16() uint16 {
	var b [2]byte
	e.read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (e *encoder) uint32() uint32 {
	var b [4]byte
	e.read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (e *encoder) uint64() uint64 {
	var b [8]byte
	e.read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func (e *encoder) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.write(b[:])
}

func (e *encoder) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.write(b[:])
}

func (e *encoder) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.write(b[:])
}
