package nbd

import (
	"errors"
	"fmt"
)

const (
	nbdMagic             = 0x4e42444d41474943
	optMagic             = 0x49484156454f5054
	repMagic             = 0x0003e889045565a9
	reqMagic             = 0x25609513
	simpleReplyMagic     = 0x67446698
	structuredReplyMagic = 0x668e33ef

	flagFixedNewstyle = 1 << 0
	flagNoZeroes      = 1 << 1
	flagDefaults      = flagFixedNewstyle | flagNoZeroes

	maxOptionLength = 4 << 10
)

const (
	cOptExportName      = 1
	cOptAbort           = 2
	cOptList            = 3
	cOptStartTLS        = 5
	cOptInfo            = 6
	cOptGo              = 7
	cOptStructuredReply = 8
)

// errno is an NBD_REP_ERR_* option reply code.
type errno uint32

const (
	_            errno = (1 << 31) + iota
	errUnsup           // NBD_REP_ERR_UNSUP
	errPolicy          // NBD_REP_ERR_POLICY
	errInvalid         // NBD_REP_ERR_INVALID
	errPlatform        // NBD_REP_ERR_PLATFORM
	errTLSReqd         // NBD_REP_ERR_TLS_REQD
	errUnknown         // NBD_REP_ERR_UNKNOWN
	errShutdown        // NBD_REP_ERR_SHUTDOWN
	errTooBig   = errno((1 << 31) + 10)
)

// optionRequest is a decoded client option request, still carrying whatever
// data the option negotiator needs to act on it.
type optionRequest interface {
	code() uint32
}

// decodeOption reads one option request header plus payload from e. The
// returned errno is non-zero if the option was malformed; the caller should
// reply with that error and, unless it's fatal, keep negotiating.
func decodeOption(e *encoder) (uint32, optionRequest, errno) {
	magic := e.uint64()
	if magic != optMagic {
		e.check(errors.New("invalid option magic"))
	}
	option := e.uint32()
	length := e.uint32()
	if length > maxOptionLength {
		e.discard(length)
		return option, nil, errTooBig
	}
	switch option {
	case cOptAbort:
		o := new(optAbort)
		return option, o, o.decode(e, length)
	case cOptList:
		o := new(optList)
		return option, o, o.decode(e, length)
	case cOptStructuredReply:
		o := new(optStructuredReply)
		return option, o, o.decode(e, length)
	case cOptGo:
		o := &optGo{}
		return option, o, o.decode(e, length)
	default:
		e.discard(length)
		return option, nil, errUnsup
	}
}

type optAbort struct{}

func (o *optAbort) code() uint32 { return cOptAbort }

func (o *optAbort) decode(e *encoder, l uint32) errno {
	if l != 0 {
		return errInvalid
	}
	return 0
}

type optList struct{}

func (o *optList) code() uint32 { return cOptList }

func (o *optList) decode(e *encoder, l uint32) errno {
	if l != 0 {
		e.discard(l)
		return errInvalid
	}
	return 0
}

type optStructuredReply struct{}

func (o *optStructuredReply) code() uint32 { return cOptStructuredReply }

func (o *optStructuredReply) decode(e *encoder, l uint32) errno {
	if l != 0 {
		e.discard(l)
		return errInvalid
	}
	return 0
}

// optGo is a decoded NBD_OPT_GO request: export name plus a list of
// requested info ids. This server always answers with NBD_INFO_EXPORT
// regardless of reqs, as permitted by the wire protocol.
type optGo struct {
	name string
	reqs []uint16
}

func (o *optGo) code() uint32 { return cOptGo }

func (o *optGo) decode(e *encoder, l uint32) errno {
	if l < 6 {
		e.discard(l)
		return errInvalid
	}
	nlen := e.uint32()
	if nlen > l-6 {
		e.discard(l - 4)
		return errUnknown
	}
	name := make([]byte, nlen)
	e.read(name)
	o.name = string(name)
	nreqs := e.uint16()
	rest := l - 6 - nlen
	if rest != uint32(nreqs)*2 {
		e.discard(rest)
		return errInvalid
	}
	for ; nreqs > 0; nreqs-- {
		o.reqs = append(o.reqs, e.uint16())
	}
	return 0
}

// optionReply is an encodable option reply payload; code() is the reply
// type (NBD_REP_ACK etc) it is sent under.
type optionReply interface {
	code() uint32
	encode(*encoder)
}

// encodeReply writes one complete option reply record: magic, the option id
// it answers, the reply type, and the length-prefixed payload produced by
// reply.encode.
func encodeReply(e *encoder, option uint32, reply optionReply) {
	e.writeUint64(repMagic)
	e.writeUint32(option)
	e.writeUint32(reply.code())
	saved := e.buf
	e.buf = []byte{}
	reply.encode(e)
	buf := e.buf
	e.buf = saved
	e.writeUint32(uint32(len(buf)))
	e.write(buf)
}

const (
	cRepAck    = 1
	cRepServer = 2
	cRepInfo   = 3
)

type repAck struct{}

func (r *repAck) code() uint32 { return cRepAck }

func (r *repAck) encode(*encoder) {}

type repServer struct {
	name string
}

func (r *repServer) code() uint32 { return cRepServer }

func (r *repServer) encode(e *encoder) {
	e.writeUint32(uint32(len(r.name)))
	e.writeString(r.name)
}

func (r *repServer) decode(e *encoder, l uint32) {
	if l < 4 {
		e.check(errors.New("invalid server response"))
	}
	length := e.uint32()
	if length > l-4 {
		e.check(errors.New("invalid server response"))
	}
	b := make([]byte, l-4)
	e.read(b)
	r.name = string(b[:length])
}

const cInfoExport = 0

// infoExport is the NBD_INFO_EXPORT info item: the only one this server
// sends, carrying the export's size and transmission flags.
type infoExport struct {
	size  uint64
	flags uint16
}

func (r *infoExport) code() uint32 { return cRepInfo }

func (r *infoExport) encode(e *encoder) {
	e.writeUint16(cInfoExport)
	e.writeUint64(r.size)
	e.writeUint16(r.flags)
}

func (r *infoExport) decode(e *encoder, l uint32) {
	if l != 2+10 {
		e.check(errors.New("invalid length for export info reply"))
	}
	if e.uint16() != cInfoExport {
		e.check(errors.New("invalid info type"))
	}
	r.size = e.uint64()
	r.flags = e.uint16()
}

// repError is an NBD_REP_ERR_* reply, optionally carrying a UTF-8 diagnostic
// message.
type repError struct {
	errno errno
	msg   string
}

func (r *repError) code() uint32 { return uint32(r.errno) }

func (r *repError) encode(e *encoder) {
	e.writeString(r.msg)
}

func (r *repError) decode(e *encoder, l uint32) {
	if l > (4 << 20) {
		e.check(errors.New("error string too large"))
	}
	b := make([]byte, l)
	e.read(b)
	r.msg = string(b)
}

func (r *repError) Error() string {
	return fmt.Sprintf("option error 0x%x: %s", uint32(r.errno), r.msg)
}
