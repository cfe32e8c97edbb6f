package wasm

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the magic number plus version field.
const HeaderSize = 8

// HasMagic reports whether data starts with the "\0asm" preamble.
func HasMagic(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == Magic
}

// IsComponent reports whether data is a Component Model binary.
// Components share the magic number but use a layered version field.
func IsComponent(data []byte) bool {
	if len(data) < HeaderSize || !HasMagic(data) {
		return false
	}
	return binary.LittleEndian.Uint32(data[4:8]) > Version
}

// ValidateHeader checks that data looks like a core WebAssembly module.
func ValidateHeader(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("binary too short: %d bytes", len(data))
	}
	if !HasMagic(data) {
		return fmt.Errorf("invalid magic number %x", data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != Version {
		return fmt.Errorf("unsupported binary version %#x", v)
	}
	return nil
}
