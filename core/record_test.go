package core

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf, err := encodeRecord(opSet, 7, []byte("foo"), []byte("bar"))
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}

	if len(buf) != recordHeaderLen+3+3 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), recordHeaderLen+6)
	}

	h := decodeHeader(buf[:recordHeaderLen])
	if h.magic != recordMagic {
		t.Errorf("magic = %#x, want %#x", h.magic, recordMagic)
	}
	if h.version != recordVersion {
		t.Errorf("version = %d, want %d", h.version, recordVersion)
	}
	if h.op != opSet {
		t.Errorf("op = %d, want %d", h.op, opSet)
	}
	if h.seq != 7 {
		t.Errorf("seq = %d, want 7", h.seq)
	}
	if h.klen != 3 || h.vlen != 3 {
		t.Errorf("klen=%d vlen=%d, want 3,3", h.klen, h.vlen)
	}

	key := buf[recordHeaderLen : recordHeaderLen+3]
	val := buf[recordHeaderLen+3:]
	if !bytes.Equal(key, []byte("foo")) || !bytes.Equal(val, []byte("bar")) {
		t.Errorf("key/val = %q/%q, want foo/bar", key, val)
	}
}

func TestEncodeDeleteHasNoValueBytes(t *testing.T) {
	buf, err := encodeRecord(opDel, 1, []byte("foo"), []byte("ignored"))
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	if len(buf) != recordHeaderLen+3 {
		t.Fatalf("len(buf) = %d, want %d (DEL must not carry a value)", len(buf), recordHeaderLen+3)
	}
}

func TestEncodeRecordCRCCoversHeaderAndBody(t *testing.T) {
	a, _ := encodeRecord(opSet, 1, []byte("k"), []byte("v1"))
	b, _ := encodeRecord(opSet, 1, []byte("k"), []byte("v2"))

	ha := decodeHeader(a[:recordHeaderLen])
	hb := decodeHeader(b[:recordHeaderLen])
	if ha.crc == hb.crc {
		t.Error("expected different CRCs for different values")
	}
}
