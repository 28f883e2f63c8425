package pdu

import "strings"

// gsm7Alphabet is the GSM 03.38 default alphabet, indexed by septet value
// 0x00-0x7f. 0x1b is the escape-to-extension-table marker and is handled
// separately by decodeGSM7Text.
var gsm7Alphabet = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'Ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', 0x1b, 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// gsm7Ext maps the extension table (reached via the 0x1b escape) from
// septet value to rune. Unlisted values fall back to a space, as the spec
// mandates for reserved extension code points.
var gsm7Ext = map[byte]rune{
	0x0a: '\f',
	0x14: '^',
	0x28: '{',
	0x29: '}',
	0x2f: '\\',
	0x3c: '[',
	0x3d: '~',
	0x3e: ']',
	0x40: '|',
	0x65: '€',
}

var gsm7Reverse map[rune]byte
var gsm7ExtReverse map[rune]byte

func init() {
	gsm7Reverse = make(map[rune]byte, len(gsm7Alphabet))
	for i, r := range gsm7Alphabet {
		if r == 0x1b {
			continue
		}
		gsm7Reverse[r] = byte(i)
	}
	gsm7ExtReverse = make(map[rune]byte, len(gsm7Ext))
	for septet, r := range gsm7Ext {
		gsm7ExtReverse[r] = septet
	}
}

// SupportsGSM7 reports whether every rune in s has a representation in the
// default alphabet or its extension table, i.e. whether s can be sent
// without falling back to UCS-2.
func SupportsGSM7(s string) bool {
	for _, r := range s {
		if _, ok := gsm7Reverse[r]; ok {
			continue
		}
		if _, ok := gsm7ExtReverse[r]; ok {
			continue
		}
		return false
	}
	return true
}

// encodeGSM7Text maps a string to its septet sequence (each byte 0-127),
// expanding extension-table characters to the two-septet escape form.
func encodeGSM7Text(s string) []byte {
	septets := make([]byte, 0, len(s))
	for _, r := range s {
		if v, ok := gsm7Reverse[r]; ok {
			septets = append(septets, v)
			continue
		}
		if v, ok := gsm7ExtReverse[r]; ok {
			septets = append(septets, 0x1b, v)
			continue
		}
		septets = append(septets, gsm7Reverse['?']) // unmappable rune
	}
	return septets
}

// decodeGSM7Text maps a septet sequence back to text, resolving escape
// sequences via the extension table.
func decodeGSM7Text(septets []byte) string {
	var b strings.Builder
	for i := 0; i < len(septets); i++ {
		if septets[i] == 0x1b && i+1 < len(septets) {
			i++
			if r, ok := gsm7Ext[septets[i]]; ok {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
			continue
		}
		b.WriteRune(gsm7Alphabet[septets[i]&0x7f])
	}
	return b.String()
}

// packSeptets packs a septet sequence (one character value per byte, high
// bit clear) into 8-bit octets, 7 bits at a time, per 3GPP TS 23.038 §6.1.2.1.
// fillBits prepends that many zero-value septets so that a following UDH's
// octet count aligns to a septet boundary (used for concatenated messages).
func packSeptets(septets []byte, fillBits int) []byte {
	if fillBits > 0 {
		padded := make([]byte, fillBits+len(septets))
		copy(padded[fillBits:], septets)
		septets = padded
	}
	if len(septets) == 0 {
		return nil
	}
	octets := make([]byte, (len(septets)*7+7)/8)
	for i, c := range septets {
		row := i - i/8
		if i%8 != 0 {
			octets[row-1] |= c << uint(8-i%8)
		}
		octets[row] |= c >> uint(i%8)
	}
	return octets
}

// unpackSeptets reverses packSeptets, producing septetCount septet values
// from the packed octets.
func unpackSeptets(octets []byte, septetCount int) []byte {
	out := make([]byte, septetCount)
	for i := 0; i < septetCount; i++ {
		byteIdx := i * 7 / 8
		bitOff := uint(i * 7 % 8)
		if byteIdx >= len(octets) {
			break
		}
		v := octets[byteIdx] >> bitOff
		if bitOff > 1 && byteIdx+1 < len(octets) {
			v |= octets[byteIdx+1] << (8 - bitOff)
		}
		out[i] = v & 0x7f
	}
	return out
}

// ucs2Encode renders s as big-endian UTF-16 code units (UCS-2 BMP only;
// characters outside the Basic Multilingual Plane are replaced with '?',
// matching vendor behavior for the rare astral-plane input).
func ucs2Encode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r > 0xffff {
			r = '?'
		}
		out = append(out, byte(r>>8), byte(r))
	}
	return out
}

// ucs2Decode reverses ucs2Encode.
func ucs2Decode(b []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(b); i += 2 {
		sb.WriteRune(rune(b[i])<<8 | rune(b[i+1]))
	}
	return sb.String()
}
