package nbd

import (
	"errors"
	"fmt"
	"io"
)

// connParameters is what the handshake driver hands off to the
// transmission engine once negotiation reaches a terminal state.
type connParameters struct {
	export     Export
	structured bool
}

// serverHandshake runs the newstyle handshake (server greeting, client
// flags, option negotiation) over rw against reg. It returns once a
// terminal option is reached (GO success) or an unrecoverable error occurs.
func serverHandshake(rw io.ReadWriter, reg *Registry) (connParameters, error) {
	var parms connParameters
	err := do(rw, func(e *encoder) {
		e.writeUint64(nbdMagic)
		e.writeUint64(optMagic)
		e.writeUint16(flagDefaults)

		clientFlags := e.uint32()
		if clientFlags != flagDefaults {
			e.check(errors.New("handshake aborted: client did not send FIXED_NEWSTYLE|NO_ZEROES"))
		}

		negotiateOptions(e, reg, &parms)
	})
	return parms, err
}

// negotiateOptions drives the option sub-phase (component C): it reads
// option requests and replies until a terminal option (GO success or
// ABORT) is reached, or a fatal protocol error occurs. Non-terminal
// outcomes loop back to read the next option.
func negotiateOptions(e *encoder, reg *Registry, parms *connParameters) {
	for {
		code, o, errc := decodeOption(e)
		if errc != 0 {
			encodeReply(e, code, &repError{errc, ""})
			// A non-empty LIST/STRUCTURED_REPLY/ABORT payload, a malformed GO
			// request and an oversized option payload all terminate the
			// connection (the data-length constraint on LIST/STRUCTURED_REPLY
			// is spelled out as terminal, and the original source exits the
			// process on this exact condition); only a genuinely unknown
			// option id is recoverable and lets negotiation continue.
			if code == cOptGo || code == cOptList || code == cOptStructuredReply || code == cOptAbort || errc == errTooBig {
				e.check(fmt.Errorf("malformed option 0x%x (errno 0x%x)", code, uint32(errc)))
			}
			continue
		}
		switch o := o.(type) {
		case *optAbort:
			e.check(errAbort)

		case *optList:
			for _, name := range reg.Names() {
				encodeReply(e, code, &repServer{name})
			}
			encodeReply(e, code, &repAck{})

		case *optStructuredReply:
			parms.structured = true
			encodeReply(e, code, &repAck{})

		case *optGo:
			exp, ok := reg.Lookup(o.name)
			if !ok {
				encodeReply(e, code, &repError{errUnknown, "unknown export"})
				e.check(errors.New("client requested unknown export"))
			}
			encodeReply(e, code, &infoExport{exp.Size, exp.flags()})
			encodeReply(e, code, &repAck{})
			parms.export = exp
			return
		}
	}
}
