package lib

import (
	"bytes"
	"testing"
)

func TestVarIntWidths(t *testing.T) {
	for _, c := range []struct {
		value uint64
		bytes []byte
	}{
		{0, []byte{0x00}},
		{63, []byte{0x3f}},
		{64, []byte{0x40, 0x40}},
		{494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
	} {
		encoded := EncodeVarInt(c.value)
		if !bytes.Equal(encoded, c.bytes) {
			t.Errorf("encoding %d: expected %x, got %x", c.value, c.bytes, encoded)
		}
		if VarIntLen(c.value) != len(c.bytes) {
			t.Errorf("VarIntLen(%d) = %d, expected %d", c.value, VarIntLen(c.value), len(c.bytes))
		}
		value, length, err := ReadVarIntValue(bytes.NewReader(c.bytes))
		if err != nil {
			t.Fatal(err)
		}
		if value != c.value || length != len(c.bytes) {
			t.Errorf("decoding %x: expected (%d, %d), got (%d, %d)", c.bytes, c.value, len(c.bytes), value, length)
		}
	}
}

func TestVarIntTruncated(t *testing.T) {
	if _, _, err := ReadVarIntValue(bytes.NewReader([]byte{0x40})); err == nil {
		t.Error("expected an error on a truncated 2-byte varint")
	}
	if _, _, err := ReadVarIntValue(bytes.NewReader(nil)); err == nil {
		t.Error("expected an error on an empty buffer")
	}
}

func TestVarIntTooLarge(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a value above 62 bits")
		}
	}()
	EncodeVarInt(maxVarInt8 + 1)
}
