package pdu

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a GSM phone number as it appears in a TPDU address field:
// digits plus a type-of-address byte distinguishing international,
// national, and alphanumeric forms.
type Address struct {
	Number string // digits only, '+' stripped
	TOA    byte   // type-of-address octet
}

const (
	toaInternational = 0x91
	toaNational       = 0x81
)

// NewAddress classifies a dialable number string (optionally "+"-prefixed)
// into an Address with the matching type-of-address byte.
func NewAddress(number string) Address {
	if strings.HasPrefix(number, "+") {
		return Address{Number: number[1:], TOA: toaInternational}
	}
	return Address{Number: number, TOA: toaNational}
}

// String renders the address back to dialable form, restoring the leading
// "+" for international numbers.
func (a Address) String() string {
	if a.TOA == toaInternational {
		return "+" + a.Number
	}
	return a.Number
}

// encode returns the address field as it appears on the wire: a length
// byte (count of digits, not octets), the TOA byte, and the semi-octet
// swizzled digits.
func (a Address) encode() []byte {
	out := make([]byte, 0, 2+len(a.Number)/2+1)
	out = append(out, byte(len(a.Number)), a.TOA)
	out = append(out, swizzle(a.Number)...)
	return out
}

// decodeAddress reads an address field starting at b[0] (the digit-count
// length byte) and returns the parsed Address plus the number of bytes
// consumed.
func decodeAddress(b []byte) (Address, int, error) {
	if len(b) < 2 {
		return Address{}, 0, fmt.Errorf("pdu: truncated address field")
	}
	digitLen := int(b[0])
	toa := b[1]
	octets := (digitLen + 1) / 2
	if len(b) < 2+octets {
		return Address{}, 0, fmt.Errorf("pdu: truncated address digits")
	}
	number := unswizzle(b[2 : 2+octets])
	if len(number) > digitLen {
		number = number[:digitLen]
	}
	return Address{Number: number, TOA: toa}, 2 + octets, nil
}

// swizzle BCD-encodes a digit string into semi-octet pairs, padding a trailing
// odd digit with the 0xF filler nibble.
func swizzle(digits string) []byte {
	if len(digits)%2 == 1 {
		digits += "F"
	}
	swapped := make([]byte, len(digits))
	for i := 0; i < len(digits); i += 2 {
		swapped[i], swapped[i+1] = digits[i+1], digits[i]
	}
	out, _ := hex.DecodeString(string(swapped))
	return out
}

// unswizzle reverses swizzle, dropping a trailing 0xF filler nibble.
func unswizzle(b []byte) string {
	hexStr := hex.EncodeToString(b)
	swapped := make([]byte, len(hexStr))
	for i := 0; i < len(hexStr); i += 2 {
		swapped[i], swapped[i+1] = hexStr[i+1], hexStr[i]
	}
	s := string(swapped)
	if len(s) > 0 && s[len(s)-1] == 'f' {
		s = s[:len(s)-1]
	}
	return s
}
