package pdu

import (
	"encoding/hex"

	"github.com/nexmodem/qcore/corerr"
)

// HexDecode decodes a paired-ASCII-hex string, rejecting odd length or
// non-hex input.
func HexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, corerr.New(corerr.KindMalformedHexstr, "odd-length hex string")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindMalformedHexstr, err, "invalid hex string")
	}
	return b, nil
}

// HexEncode is the inverse of HexDecode.
func HexEncode(b []byte) string { return hex.EncodeToString(b) }

// DecodeGSM7Hex decodes a hex-encoded, septet-packed GSM-7 payload such
// as AT+CUSD's DCS-0 body, where the septet count is implied by the
// packed octet count (floor(len(octets)*8/7)).
func DecodeGSM7Hex(hexBody string) (string, error) {
	octets, err := HexDecode(hexBody)
	if err != nil {
		return "", err
	}
	septetCount := len(octets) * 8 / 7
	septets := unpackSeptets(octets, septetCount)
	return decodeGSM7Text(septets), nil
}

// EncodeGSM7Hex packs s as GSM-7 septets and hex-encodes the result, for
// building an outbound AT+CUSD DCS-0 payload.
func EncodeGSM7Hex(s string) (string, error) {
	if !SupportsGSM7(s) {
		return "", corerr.New(corerr.KindEncodeGsm7, "string not representable in GSM-7")
	}
	septets := encodeGSM7Text(s)
	return HexEncode(packSeptets(septets, 0)), nil
}

// DecodeUCS2Hex decodes a hex-encoded big-endian UCS-2 payload such as
// AT+CUSD's DCS-2 body.
func DecodeUCS2Hex(hexBody string) (string, error) {
	b, err := HexDecode(hexBody)
	if err != nil {
		return "", err
	}
	return ucs2Decode(b), nil
}

// EncodeUCS2Hex is the inverse of DecodeUCS2Hex.
func EncodeUCS2Hex(s string) string { return HexEncode(ucs2Encode(s)) }
