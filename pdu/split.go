package pdu

import "github.com/nexmodem/qcore/corerr"

// Per 3GPP TS 23.038/23.040: a single-part GSM-7 message carries up to 160
// septets; concatenation's UDH (the shortest, 1-byte-reference form) costs
// 7 septets of that budget once fill bits are accounted for, leaving 153.
// UCS-2's budget is 70/67 characters for the same reason, one octet per
// character rather than one septet.
const (
	gsm7SinglePartSeptets = 160
	gsm7ConcatSeptets     = 153
	ucs2SinglePartChars   = 70
	ucs2ConcatChars       = 67

	// MaxConcatParts is the largest number of segments this driver will
	// split an outbound message into; TP-MR is only one octet per part and
	// the original driver capped concatenated sends at 6 for the same
	// reason.
	MaxConcatParts = 6
)

// SplitText divides text into the TP-UD chunks needed to send it as one or
// more SMS-SUBMIT TPDUs. It reports whether UCS-2 was required (as opposed
// to GSM-7) and returns a single, unsplit chunk when text fits in one
// message outright — callers should only populate a Submit's Concat header
// when len(chunks) > 1.
func SplitText(text string) (chunks []string, ucs2 bool, err error) {
	if SupportsGSM7(text) {
		if len(encodeGSM7Text(text)) <= gsm7SinglePartSeptets {
			return []string{text}, false, nil
		}
		groups := splitGSM7Runes([]rune(text), gsm7ConcatSeptets)
		if len(groups) > MaxConcatParts {
			return nil, false, corerr.New(corerr.KindTextTooLong, "message requires more than 6 concatenated parts")
		}
		return groups, false, nil
	}

	runes := []rune(text)
	if len(runes) <= ucs2SinglePartChars {
		return []string{text}, true, nil
	}
	groups := splitRunes(runes, ucs2ConcatChars)
	if len(groups) > MaxConcatParts {
		return nil, true, corerr.New(corerr.KindTextTooLong, "message requires more than 6 concatenated parts")
	}
	return groups, true, nil
}

// splitGSM7Runes groups runes into chunks whose encoded septet length,
// counting extension-table escapes as two septets, never exceeds max; a
// chunk boundary never falls inside an escape pair.
func splitGSM7Runes(runes []rune, max int) []string {
	var groups []string
	var cur []rune
	curLen := 0
	for _, r := range runes {
		w := 1
		if _, ok := gsm7ExtReverse[r]; ok {
			w = 2
		}
		if curLen+w > max && len(cur) > 0 {
			groups = append(groups, string(cur))
			cur = nil
			curLen = 0
		}
		cur = append(cur, r)
		curLen += w
	}
	if len(cur) > 0 {
		groups = append(groups, string(cur))
	}
	return groups
}

func splitRunes(runes []rune, max int) []string {
	var groups []string
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		groups = append(groups, string(runes[:n]))
		runes = runes[n:]
	}
	return groups
}
