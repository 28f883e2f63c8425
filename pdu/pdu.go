package pdu

import (
	"encoding/hex"
	"fmt"

	"github.com/warthog618/sms/encoding/pdumode"
)

// BuildSubmit renders a Submit as the full SCA+TPDU hex string AT+CMGS
// expects in PDU mode. The SCA envelope itself is framed by
// github.com/warthog618/sms/encoding/pdumode; an empty sca lets the modem
// fall back to the SIM's configured service center.
func BuildSubmit(sca pdumode.SMSCAddress, s Submit) (string, error) {
	tpdu, err := BuildSubmitTPDU(s)
	if err != nil {
		return "", err
	}
	p := pdumode.PDU{SMSC: sca, TPDU: tpdu}
	return p.MarshalHexString()
}

// Incoming is the decoded result of ParseIncoming: exactly one of Deliver
// or StatusReport is non-nil, matching the TPDU's message type indicator.
type Incoming struct {
	Deliver      *Deliver
	StatusReport *StatusReport
}

// ParseIncoming decodes a full SCA+TPDU hex string as read from AT+CMGR or
// AT+CMGL in PDU mode, skipping the SMSC octet and dispatching on the
// TPDU's message type indicator.
func ParseIncoming(raw string) (Incoming, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Incoming{}, fmt.Errorf("pdu: invalid hex: %w", err)
	}
	if len(b) < 1 {
		return Incoming{}, fmt.Errorf("pdu: empty PDU")
	}
	scaOctets := int(b[0])
	o := 1 + scaOctets
	if len(b) <= o {
		return Incoming{}, fmt.Errorf("pdu: PDU shorter than its SMSC field")
	}
	tpdu := b[o:]

	switch tpdu[0] & 0x03 {
	case mtiSMSDeliver:
		d, err := ParseDeliverTPDU(tpdu)
		if err != nil {
			return Incoming{}, err
		}
		return Incoming{Deliver: &d}, nil
	case mtiSMSStatusReport:
		sr, err := ParseStatusReportTPDU(tpdu)
		if err != nil {
			return Incoming{}, err
		}
		return Incoming{StatusReport: &sr}, nil
	default:
		return Incoming{}, fmt.Errorf("pdu: unsupported TPDU message type %#x", tpdu[0]&0x03)
	}
}
