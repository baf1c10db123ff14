package nbd

import "errors"

const (
	cmdRead  = 0
	cmdWrite = 1
	cmdDisc  = 2
)

const (
	replyFlagDone = 1 << 0
)

const (
	replyTypeNone       = 0
	replyTypeOffsetData = 1
)

// request is one transmission-phase command header plus (for WRITE) its
// payload.
type request struct {
	flags  uint16
	typ    uint16
	handle uint64
	offset uint64
	length uint32
	data   []byte
}

// decode reads one request header from e. For a WRITE command it also
// consumes exactly length payload bytes immediately after the header, so
// the stream is never left desynchronized regardless of what the caller
// does with the result.
func (r *request) decode(e *encoder) {
	if e.uint32() != reqMagic {
		e.check(errors.New("invalid magic for request"))
	}
	r.flags = e.uint16()
	r.typ = e.uint16()
	r.handle = e.uint64()
	r.offset = e.uint64()
	r.length = e.uint32()
	if r.typ != cmdWrite {
		return
	}
	buf := make([]byte, r.length)
	e.read(buf)
	r.data = buf
}

// simpleReply is the non-structured transmission reply: a fixed header
// followed directly by the payload (if any).
type simpleReply struct {
	errno  uint32
	handle uint64
	data   []byte
}

func (r *simpleReply) encode(e *encoder) {
	e.writeUint32(simpleReplyMagic)
	e.writeUint32(r.errno)
	e.writeUint64(r.handle)
	e.write(r.data)
}

// structuredReply is a single structured-reply chunk. This server only ever
// emits one chunk per request (either OFFSET_DATA or, for an empty
// acknowledgement, NONE), always with DONE set.
type structuredReply struct {
	typ    uint16
	handle uint64
	offset uint64
	data   []byte
}

func (r *structuredReply) encode(e *encoder) {
	e.writeUint32(structuredReplyMagic)
	e.writeUint16(replyFlagDone)
	e.writeUint16(r.typ)
	e.writeUint64(r.handle)
	switch r.typ {
	case replyTypeOffsetData:
		e.writeUint32(uint32(len(r.data)) + 8)
		e.writeUint64(r.offset)
		e.write(r.data)
	case replyTypeNone:
		e.writeUint32(0)
	}
}

// structuredError is the structured-reply error chunk (NBD_REPLY_TYPE_ERROR),
// used to report a command failure when structured replies are in effect.
type structuredError struct {
	handle uint64
	errno  uint32
	msg    string
}

const replyTypeError = (1 << 15) + 1

func (r *structuredError) encode(e *encoder) {
	e.writeUint32(structuredReplyMagic)
	e.writeUint16(replyFlagDone)
	e.writeUint16(replyTypeError)
	e.writeUint64(r.handle)
	e.writeUint32(4 + 2 + uint32(len(r.msg)))
	e.writeUint32(r.errno)
	e.writeUint16(uint16(len(r.msg)))
	e.writeString(r.msg)
}
