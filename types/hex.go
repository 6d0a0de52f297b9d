package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Bytes is a byte slice which is encoded as "0x" prefixed hex string in text formats (JSON, YAML).
type Bytes []byte

func (b Bytes) MarshalText() ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	result := make([]byte, len(b)*2+2)
	copy(result, `0x`)
	hex.Encode(result[2:], b)
	return result, nil
}

func (b *Bytes) UnmarshalText(src []byte) error {
	if len(src) == 0 {
		*b = nil
		return nil
	}
	res, err := DecodeHex(string(src))
	if err != nil {
		return err
	}
	*b = res
	return nil
}

func (b Bytes) String() string {
	return fmt.Sprintf("%X", []byte(b))
}

// DecodeHex decodes hex string with or without "0x" prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	res, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex string: %w", err)
	}
	return res, nil
}
