// Package pdu implements the 3GPP TS 23.040 TPDU layer and TS 23.038
// alphabet codecs used to build and parse SMS protocol data units.
//
// The SMSC envelope byte that precedes a TPDU on the wire (the "SCA") is
// delegated to github.com/warthog618/sms/encoding/pdumode, which already
// implements that framing; this package is responsible for everything
// from the first TPDU octet onward.
package pdu

import (
	"fmt"
	"time"
)

// DCS (data coding scheme) values this package produces and understands.
const (
	dcsGSM7 byte = 0x00
	dcsUCS2 byte = 0x08
)

// TPDU first-octet bit layout (submit direction).
const (
	mtiSMSDeliver      = 0x00
	mtiSMSSubmit       = 0x01
	mtiSMSStatusReport = 0x02
	udhiFlag           = 0x40
	srrFlag            = 0x20 // status report request (submit) / status report indication (deliver)
	vpfRelative        = 0x10
)

// ConcatHeader describes the User Data Header fields for one segment of a
// concatenated ("long") SMS.
type ConcatHeader struct {
	Ref16  bool // true selects the 2-byte CSMS reference form
	Ref    uint16
	Total  byte
	Part   byte // 1-based segment index
}

func (h ConcatHeader) encode() []byte {
	if h.Ref16 {
		return []byte{0x06, 0x08, 0x04, byte(h.Ref >> 8), byte(h.Ref), h.Total, h.Part}
	}
	return []byte{0x05, 0x00, 0x03, byte(h.Ref), h.Total, h.Part}
}

// Submit is the payload needed to build an SMS-SUBMIT TPDU.
type Submit struct {
	Destination Address
	Text        string
	MsgRef      byte
	StatusReportRequested bool
	Concat      *ConcatHeader
}

// BuildSubmitTPDU encodes a SMS-SUBMIT TPDU (everything after the SMSC
// octet). Use pdu.BuildSubmit to get the full SCA+TPDU hex string ready
// to hand to AT+CMGS in PDU mode.
func BuildSubmitTPDU(s Submit) ([]byte, error) {
	var firstOctet byte = mtiSMSSubmit
	if s.StatusReportRequested {
		firstOctet |= srrFlag
	}

	var udh []byte
	if s.Concat != nil {
		firstOctet |= udhiFlag
		udh = s.Concat.encode()
	}

	dcs, userData, septetCount := encodeUserData(s.Text, udh)

	out := make([]byte, 0, 16+len(userData))
	out = append(out, firstOctet, s.MsgRef)
	out = append(out, s.Destination.encode()...)
	out = append(out, 0x00) // TP-PID: normal SME-to-SME
	out = append(out, dcs)
	// TP-VP is omitted: firstOctet leaves the VPF bits at "not present".
	out = append(out, byte(septetCount))
	out = append(out, userData...)
	return out, nil
}

// encodeUserData picks GSM-7 or UCS-2 depending on what the text needs,
// prepends any UDH, and returns the DCS byte, the encoded TP-UD field, and
// the TP-UDL value (septet count for GSM-7, octet count for UCS-2).
func encodeUserData(text string, udh []byte) (dcs byte, data []byte, udl int) {
	if SupportsGSM7(text) {
		septets := encodeGSM7Text(text)
		if len(udh) == 0 {
			packed := packSeptets(septets, 0)
			return dcsGSM7, packed, len(septets)
		}
		// The UDH occupies whole octets; septets after it must realign to
		// the septet boundary, so we pad with fillBits septets of zero
		// before the text and drop them again on decode via udh length.
		fillBits := (8 - (len(udh)*8)%7) % 7
		packed := append(append([]byte{}, udh...), packSeptets(septets, fillBits)...)
		return dcsGSM7, packed, len(septets) + fillBitsToSeptets(fillBits, len(udh))
	}
	encoded := ucs2Encode(text)
	return dcsUCS2, append(append([]byte{}, udh...), encoded...), len(udh) + len(encoded)
}

// fillBitsToSeptets converts the fill-bit count used to align a UDH to a
// septet boundary into the equivalent septet count the UDH itself
// consumes, per TS 23.040 §9.2.3.24.
func fillBitsToSeptets(fillBits, udhLen int) int {
	return (udhLen*8 + fillBits) / 7
}

// Deliver is the parsed content of a SMS-DELIVER TPDU.
type Deliver struct {
	Originator Address
	Timestamp  time.Time
	Text       string
	Concat     *ConcatHeader
}

// BuildDeliverTPDU encodes a SMS-DELIVER TPDU, the inverse of
// ParseDeliverTPDU. Production code never sends a DELIVER (that direction
// only ever arrives from the modem), but building one is how tests
// synthesize a AT+CMGR/AT+CMGL response without a live modem.
func BuildDeliverTPDU(d Deliver) ([]byte, error) {
	var firstOctet byte = mtiSMSDeliver
	var udh []byte
	if d.Concat != nil {
		firstOctet |= udhiFlag
		udh = d.Concat.encode()
	}
	dcs, userData, udl := encodeUserData(d.Text, udh)

	out := make([]byte, 0, 16+len(userData))
	out = append(out, firstOctet)
	out = append(out, d.Originator.encode()...)
	out = append(out, 0x00) // TP-PID
	out = append(out, dcs)
	out = append(out, encodeTimestamp(d.Timestamp)...)
	out = append(out, byte(udl))
	out = append(out, userData...)
	return out, nil
}

// encodeTimestamp is the inverse of decodeTimestamp, encoding t (always as
// UTC, sidestepping the timezone quarter-hour field's sign convention) as a
// 7-octet semi-octet SCTS (TS 23.040 §9.2.3.11).
func encodeTimestamp(t time.Time) []byte {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	semiOctet := func(v int) byte { return byte(v/10) | byte(v%10)<<4 }
	return []byte{
		semiOctet(t.Year() % 100),
		semiOctet(int(t.Month())),
		semiOctet(t.Day()),
		semiOctet(t.Hour()),
		semiOctet(t.Minute()),
		semiOctet(t.Second()),
		0x00,
	}
}

// ParseDeliverTPDU parses a SMS-DELIVER TPDU (the bytes following the SMSC
// octet, as already split out by pdumode on receive).
func ParseDeliverTPDU(b []byte) (Deliver, error) {
	if len(b) < 1 {
		return Deliver{}, fmt.Errorf("pdu: empty TPDU")
	}
	firstOctet := b[0]
	if firstOctet&0x03 != mtiSMSDeliver {
		return Deliver{}, fmt.Errorf("pdu: not a SMS-DELIVER TPDU (first octet %#x)", firstOctet)
	}
	hasUDH := firstOctet&udhiFlag != 0

	addr, n, err := decodeAddress(b[1:])
	if err != nil {
		return Deliver{}, err
	}
	o := 1 + n
	if len(b) < o+9 {
		return Deliver{}, fmt.Errorf("pdu: truncated TPDU")
	}
	o++ // TP-PID
	dcs := b[o]
	o++
	ts, err := decodeTimestamp(b[o : o+7])
	if err != nil {
		return Deliver{}, err
	}
	o += 7
	if o >= len(b) {
		return Deliver{}, fmt.Errorf("pdu: missing TP-UDL")
	}
	udl := int(b[o])
	o++
	ud := b[o:]

	var concat *ConcatHeader
	if hasUDH && len(ud) > 0 {
		udhLen := int(ud[0])
		if len(ud) < 1+udhLen {
			return Deliver{}, fmt.Errorf("pdu: truncated UDH")
		}
		concat = parseConcatHeader(ud[1 : 1+udhLen])
		ud = ud[1+udhLen:]
		if dcs == dcsGSM7 {
			fillBits := (8 - ((1 + udhLen) * 8 % 7)) % 7
			udl -= fillBitsToSeptets(fillBits, 1+udhLen)
		} else {
			udl -= 1 + udhLen
		}
	}

	var text string
	switch dcs {
	case dcsUCS2:
		text = ucs2Decode(ud)
	default:
		septets := unpackSeptets(ud, udl)
		text = decodeGSM7Text(septets)
	}

	return Deliver{Originator: addr, Timestamp: ts, Text: text, Concat: concat}, nil
}

func parseConcatHeader(ie []byte) *ConcatHeader {
	for i := 0; i+1 < len(ie); {
		id, length := ie[i], int(ie[i+1])
		if i+2+length > len(ie) {
			return nil
		}
		data := ie[i+2 : i+2+length]
		switch id {
		case 0x00:
			if length >= 3 {
				return &ConcatHeader{Ref: uint16(data[0]), Total: data[1], Part: data[2]}
			}
		case 0x08:
			if length >= 4 {
				return &ConcatHeader{Ref16: true, Ref: uint16(data[0])<<8 | uint16(data[1]), Total: data[2], Part: data[3]}
			}
		}
		i += 2 + length
	}
	return nil
}

// decodeTimestamp parses a 7-octet semi-octet SCTS timestamp (TS 23.040
// §9.2.3.11): year, month, day, hour, minute, second, timezone quarter-hours.
func decodeTimestamp(b []byte) (time.Time, error) {
	if len(b) != 7 {
		return time.Time{}, fmt.Errorf("pdu: timestamp must be 7 octets")
	}
	digit := func(v byte) int { return int(v&0x0f)*10 + int(v>>4) }
	year := 2000 + digit(b[0])
	month := digit(b[1])
	day := digit(b[2])
	hour := digit(b[3])
	min := digit(b[4])
	sec := digit(b[5])
	tzQuarters := int(b[6]&0x0f)*10 + int((b[6]>>4)&0x07)
	if b[6]&0x08 != 0 {
		tzQuarters = -tzQuarters
	}
	loc := time.FixedZone("", tzQuarters*15*60)
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, fmt.Errorf("pdu: invalid timestamp digits")
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, loc), nil
}

// StatusReport is the parsed content of a SMS-STATUS-REPORT TPDU.
type StatusReport struct {
	MsgRef     byte
	Recipient  Address
	SCTS       time.Time
	DischargeTime time.Time
	Status     byte
}

// ParseStatusReportTPDU parses a SMS-STATUS-REPORT TPDU.
func ParseStatusReportTPDU(b []byte) (StatusReport, error) {
	if len(b) < 3 {
		return StatusReport{}, fmt.Errorf("pdu: truncated status report")
	}
	if b[0]&0x03 != mtiSMSStatusReport {
		return StatusReport{}, fmt.Errorf("pdu: not a SMS-STATUS-REPORT TPDU")
	}
	msgRef := b[1]
	addr, n, err := decodeAddress(b[2:])
	if err != nil {
		return StatusReport{}, err
	}
	o := 2 + n
	if len(b) < o+15 {
		return StatusReport{}, fmt.Errorf("pdu: truncated status report body")
	}
	scts, err := decodeTimestamp(b[o : o+7])
	if err != nil {
		return StatusReport{}, err
	}
	o += 7
	dt, err := decodeTimestamp(b[o : o+7])
	if err != nil {
		return StatusReport{}, err
	}
	o += 7
	status := b[o]
	return StatusReport{MsgRef: msgRef, Recipient: addr, SCTS: scts, DischargeTime: dt, Status: status}, nil
}

// StatusDelivered reports whether a TP-Status byte indicates final,
// successful delivery: no permanent-failure bit, and no still-trying
// bit, matching the bit convention the smsdb package relies on to decide
// whether a tracked status is terminal.
func StatusDelivered(status byte) bool {
	return status&0x40 == 0 && status&0x20 == 0
}

// StatusIsFinal reports whether status represents a terminal outcome
// (delivered, or a permanent/temporary failure that will not be retried
// further), as opposed to an intermediate forwarded/buffered state.
func StatusIsFinal(status byte) bool {
	return status&0x40 != 0 || status&0x20 == 0
}
