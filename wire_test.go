package nbd

import (
	"bytes"
	"testing"
)

// buf returns an encoder over a fresh in-memory buffer, for deterministic
// encode/decode round-trips without any goroutine or real connection.
func buf() (*encoder, *bytes.Buffer) {
	var b bytes.Buffer
	return &encoder{rw: &b, check: func(err error) {
		if err != nil {
			panic(err)
		}
	}}, &b
}

func TestRoundTripInfoExport(t *testing.T) {
	want := &infoExport{size: 1 << 40, flags: 3}
	e, _ := buf()
	want.encode(e)

	got := new(infoExport)
	got.decode(e, 12)
	if *got != *want {
		t.Fatalf("round-trip = %+v, want %+v", got, want)
	}
}

func TestRoundTripRepServer(t *testing.T) {
	want := &repServer{name: "export-one"}
	e, _ := buf()
	want.encode(e)

	got := new(repServer)
	got.decode(e, uint32(4+len(want.name)))
	if got.name != want.name {
		t.Fatalf("round-trip name = %q, want %q", got.name, want.name)
	}
}

func TestRoundTripRepError(t *testing.T) {
	want := &repError{errno: errUnknown, msg: "no such export"}
	e, _ := buf()
	want.encode(e)

	got := &repError{errno: errUnknown}
	got.decode(e, uint32(len(want.msg)))
	if got.msg != want.msg {
		t.Fatalf("round-trip msg = %q, want %q", got.msg, want.msg)
	}
}

func TestRoundTripRequestRead(t *testing.T) {
	e, _ := buf()
	e.writeUint32(reqMagic)
	e.writeUint16(0)
	e.writeUint16(cmdRead)
	e.writeUint64(0xdeadbeef)
	e.writeUint64(4096)
	e.writeUint32(512)

	var got request
	got.decode(e)
	if got.typ != cmdRead || got.handle != 0xdeadbeef || got.offset != 4096 || got.length != 512 {
		t.Fatalf("round-trip request = %+v", got)
	}
}

func TestRoundTripRequestWriteConsumesPayload(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	e, _ := buf()
	e.writeUint32(reqMagic)
	e.writeUint16(0)
	e.writeUint16(cmdWrite)
	e.writeUint64(1)
	e.writeUint64(0)
	e.writeUint32(uint32(len(payload)))
	e.write(payload)

	var got request
	got.decode(e)
	if !bytes.Equal(got.data, payload) {
		t.Fatalf("round-trip write payload = %v, want %v", got.data, payload)
	}
}

func TestSimpleReplyEncoding(t *testing.T) {
	e, b := buf()
	(&simpleReply{errno: 0, handle: 7, data: []byte{9, 9}}).encode(e)

	var got encoder
	got = encoder{rw: b, check: e.check}
	if magic := got.uint32(); magic != simpleReplyMagic {
		t.Fatalf("magic = 0x%x, want 0x%x", magic, simpleReplyMagic)
	}
	if errno := got.uint32(); errno != 0 {
		t.Fatalf("errno = %d, want 0", errno)
	}
	if h := got.uint64(); h != 7 {
		t.Fatalf("handle = %d, want 7", h)
	}
	rest := b.Bytes()
	if !bytes.Equal(rest, []byte{9, 9}) {
		t.Fatalf("payload = %v, want [9 9]", rest)
	}
}

func TestStructuredReplyOffsetDataEncoding(t *testing.T) {
	e, b := buf()
	(&structuredReply{typ: replyTypeOffsetData, handle: 3, offset: 1024, data: []byte{1, 2, 3, 4}}).encode(e)

	got := &encoder{rw: b, check: e.check}
	if magic := got.uint32(); magic != structuredReplyMagic {
		t.Fatalf("magic = 0x%x, want 0x%x", magic, structuredReplyMagic)
	}
	if flags := got.uint16(); flags != replyFlagDone {
		t.Fatalf("flags = %d, want DONE", flags)
	}
	if typ := got.uint16(); typ != replyTypeOffsetData {
		t.Fatalf("type = %d, want OFFSET_DATA", typ)
	}
	if h := got.uint64(); h != 3 {
		t.Fatalf("handle = %d, want 3", h)
	}
	if l := got.uint32(); l != 4+8 {
		t.Fatalf("length = %d, want 12", l)
	}
	if off := got.uint64(); off != 1024 {
		t.Fatalf("offset = %d, want 1024", off)
	}
	data := make([]byte, 4)
	got.read(data)
	if !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Fatalf("data = %v, want [1 2 3 4]", data)
	}
}

func TestOptGoDecode(t *testing.T) {
	e, _ := buf()
	e.writeUint32(4)
	e.writeString("name")
	e.writeUint16(2)
	e.writeUint16(cInfoExport)
	e.writeUint16(99)

	o := &optGo{}
	if errc := o.decode(e, 4+4+2+4); errc != 0 {
		t.Fatalf("decode errno = 0x%x, want 0", uint32(errc))
	}
	if o.name != "name" {
		t.Fatalf("name = %q, want %q", o.name, "name")
	}
	if len(o.reqs) != 2 || o.reqs[0] != cInfoExport || o.reqs[1] != 99 {
		t.Fatalf("reqs = %v", o.reqs)
	}
}

func TestOptGoDecodeNameTooLong(t *testing.T) {
	e, _ := buf()
	e.writeUint32(100) // name_length way bigger than the remaining payload
	e.writeUint16(0)

	o := &optGo{}
	if errc := o.decode(e, 6); errc != errUnknown {
		t.Fatalf("decode errno = 0x%x, want ERR_UNKNOWN", uint32(errc))
	}
}
