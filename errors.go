package nbd

import (
	"errors"
	"fmt"
)

// errAbort and errDisconnect mark clean, client-initiated connection
// teardowns (the ABORT option and the DISCONNECT command respectively).
// They still unwind through the encoder's panic/recover machinery like any
// other fatal condition, but the connection supervisor treats them as
// ordinary termination rather than a fault worth logging as an error.
var (
	errAbort      = errors.New("client aborted negotiation")
	errDisconnect = errors.New("client disconnected")
)

// Error combines the normal error interface with an Errno method, giving
// the specific NBD error code that a rejected command reports back to the
// client (see respondErr); an error without one is reported as EIO. Errors
// returned by a Device are not reported this way: they end the connection.
type Error interface {
	error
	Errno() Errno
}

// Errno is an error code suitable to be sent over the wire as a transmission
// reply's error field. It mostly corresponds to syscall.Errno, though the
// constants in this package are the only ones guaranteed to be understood by
// every NBD client.
type Errno uint32

// See https://manpages.debian.org/stretch/manpages-dev/errno.3.en.html for a
// description of error numbers.
const (
	EPERM     Errno = 1
	EIO       Errno = 5
	ENOMEM    Errno = 12
	EINVAL    Errno = 22
	ENOSPC    Errno = 28
	EOVERFLOW Errno = 75
	ESHUTDOWN Errno = 108
)

var errStr = map[Errno]string{
	EPERM:     "Operation not permitted",
	EIO:       "Input/output error",
	ENOMEM:    "Cannot allocate memory",
	EINVAL:    "Invalid argument",
	ENOSPC:    "No space left on device",
	EOVERFLOW: "Value too large for defined data type",
	ESHUTDOWN: "Cannot send after transport endpoint shutdown",
}

func (e Errno) Error() string {
	if msg, ok := errStr[e]; ok {
		return msg
	}
	return fmt.Sprintf("NBD_ERROR(%d)", uint32(e))
}

// Errno returns e, so an Errno value itself satisfies Error.
func (e Errno) Errno() Errno {
	return e
}

type errf struct {
	errno Errno
	error
}

func (e errf) Errno() Errno {
	return e.errno
}

// Errorf returns an error implementing Error, reporting code as its wire
// error number.
func Errorf(code Errno, msg string, v ...interface{}) Error {
	if len(v) > 0 {
		return errf{code, fmt.Errorf(msg, v...)}
	}
	return errf{code, errors.New(msg)}
}

// errnoOf extracts the wire error code to report for err, falling back to
// EIO when err doesn't implement Error.
func errnoOf(err error) Errno {
	if e, ok := err.(Error); ok {
		return e.Errno()
	}
	return EIO
}
