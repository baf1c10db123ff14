// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nbd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Device is the interface that should be implemented to expose an NBD
// export's backing storage. An error returned by ReadAt or WriteAt is fatal
// to the connection: the transmission engine ends it without sending a
// reply for that request.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// ListenAndServe starts listening on the given network/address and serves
// the exports in reg, the first of which (or the one literally named
// "default") serves as the default export for an empty client name. It
// starts one goroutine per accepted connection and only returns when ctx is
// cancelled or the listener fails; either way, it waits for all connections
// to finish first.
func ListenAndServe(ctx context.Context, network, addr string, reg *Registry) error {
	l, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	defer l.Close()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			g.Wait()
			return err
		}
		g.Go(func() error {
			defer c.Close()
			if err := Serve(ctx, c, reg); err != nil && !isCleanTeardown(err) {
				log.Printf("nbd: connection %s: %v", c.RemoteAddr(), err)
			}
			// Every connection's fault is logged here and swallowed so one
			// connection never cancels its siblings through the group.
			return nil
		})
	}
	g.Wait()
	return nil
}

// isCleanTeardown reports whether err represents an ordinary client-driven
// end of the connection, not a fault worth logging as an error.
func isCleanTeardown(err error) bool {
	return errors.Is(err, errAbort) || errors.Is(err, errDisconnect)
}

// Serve runs the handshake and then the transmission engine for a single
// connection c against reg. It returns after ctx is cancelled, the client
// disconnects cleanly, or an unrecoverable error occurs.
func Serve(ctx context.Context, c net.Conn, reg *Registry) error {
	rw := wrapConn(ctx, c)
	defer rw.Close()

	parms, err := serverHandshake(rw, reg)
	if err != nil {
		return err
	}
	return serveTransmission(rw, parms)
}

// serveTransmission is the transmission engine (component E): a single
// self-looping state that decodes one request, performs the corresponding
// I/O against parms.export.Device, and encodes the reply, until DISCONNECT
// or a fatal error ends the loop.
func serveTransmission(rw io.ReadWriter, parms connParameters) error {
	return do(rw, func(e *encoder) {
		var req request
		for {
			req = request{}
			req.decode(e)

			switch req.typ {
			case cmdRead:
				handleRead(e, parms, &req)
			case cmdWrite:
				handleWrite(e, parms, &req)
			case cmdDisc:
				e.check(errDisconnect)
			default:
				e.check(fmt.Errorf("unknown command type %d", req.typ))
			}
		}
	})
}

func handleRead(e *encoder, parms connParameters, req *request) {
	buf := make([]byte, req.length)
	if _, err := parms.export.Device.ReadAt(buf, int64(req.offset)); err != nil {
		e.check(fmt.Errorf("read at offset %d: %w", req.offset, err))
	}
	if parms.structured {
		(&structuredReply{typ: replyTypeOffsetData, handle: req.handle, offset: req.offset, data: buf}).encode(e)
		return
	}
	(&simpleReply{errno: 0, handle: req.handle, data: buf}).encode(e)
}

func handleWrite(e *encoder, parms connParameters, req *request) {
	if parms.export.ReadOnly {
		respondErr(e, parms.structured, req.handle, Errorf(EPERM, "export is read-only"))
		return
	}
	if _, err := parms.export.Device.WriteAt(req.data, int64(req.offset)); err != nil {
		e.check(fmt.Errorf("write at offset %d: %w", req.offset, err))
	}
	if parms.structured {
		(&structuredReply{typ: replyTypeNone, handle: req.handle}).encode(e)
		return
	}
	(&simpleReply{errno: 0, handle: req.handle}).encode(e)
}

// respondErr writes a non-fatal command error reply: the command is
// rejected, the error code is reported to the client, but the connection
// stays in the transmission phase.
func respondErr(e *encoder, structured bool, handle uint64, err error) {
	code := errnoOf(err)
	if structured {
		(&structuredError{handle: handle, errno: uint32(code), msg: err.Error()}).encode(e)
		return
	}
	(&simpleReply{errno: uint32(code), handle: handle}).encode(e)
}

// ctxRW wraps a net.Conn to respect context cancellation. It does so by
// starting a goroutine that sets the connection's read/write deadline in
// the past whenever the context is cancelled.
type ctxRW struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	c      net.Conn
	done   <-chan struct{}
}

// wrapConn wraps a connection in a ctxRW.
func wrapConn(ctx context.Context, c net.Conn) io.ReadWriteCloser {
	// Note: cancel is called by Close().
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		c.SetDeadline(time.Now())
	}()
	return &ctxRW{ctx, cancel, c, done}
}

// Read implements io.Reader. It returns context.Cause(ctx) if the read was
// aborted due to context cancellation.
func (rw *ctxRW) Read(p []byte) (n int, err error) {
	n, err = rw.c.Read(p)
	if e := context.Cause(rw.ctx); e != nil {
		err = e
	}
	return n, err
}

// Write implements io.Writer. It returns context.Cause(ctx) if the write
// was aborted due to context cancellation.
func (rw *ctxRW) Write(p []byte) (n int, err error) {
	n, err = rw.c.Write(p)
	if e := context.Cause(rw.ctx); e != nil {
		err = e
	}
	return n, err
}

// Close implements io.Closer. It cleans up the resources associated with
// the ctxRW, but not the wrapped net.Conn. The wrapped net.Conn must be
// closed by the caller separately, otherwise any pending read/write
// operation may be left running indefinitely.
func (rw *ctxRW) Close() error {
	rw.cancel(errors.New("wrapped connection was closed"))
	<-rw.done
	return nil
}
