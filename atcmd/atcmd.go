// Package atcmd builds the byte payload and expected-response shape for
// every operation the device supervisor can enqueue: dial, answer,
// hang-up, SMS send/read/delete, USSD, and the init burst. It hands back
// atqueue.Cmd slices ready for atqueue.Queue.Add/InsertHead; it does not
// itself touch the wire.
package atcmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexmodem/qcore/atqueue"
	"github.com/nexmodem/qcore/corerr"
)

// ValidatePhoneNumber enforces the phone-number grammar AT+CLCC/ATD
// expect: an optional leading '+', digits only thereafter.
func ValidatePhoneNumber(number string) error {
	if number == "" {
		return corerr.New(corerr.KindInvalidPhoneNumber, "empty phone number")
	}
	digits := number
	if strings.HasPrefix(digits, "+") {
		digits = digits[1:]
	}
	if digits == "" {
		return corerr.New(corerr.KindInvalidPhoneNumber, "phone number has no digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return corerr.New(corerr.KindInvalidPhoneNumber, fmt.Sprintf("invalid character %q in phone number", r))
		}
	}
	return nil
}

// ValidateUSSD enforces the USSD code grammar: digits, '*', '#'.
func ValidateUSSD(code string) error {
	for _, r := range code {
		if r != '*' && r != '#' && (r < '0' || r > '9') {
			return corerr.New(corerr.KindInvalidUssd, fmt.Sprintf("invalid character %q in USSD code", r))
		}
	}
	return nil
}

func cmd(name string, flags atqueue.Flag, timeout time.Duration) atqueue.Cmd {
	return atqueue.Cmd{Name: name, Expect: "OK", Flags: flags, Timeout: timeout}
}

// Ping builds the liveness-check task.
func Ping() []atqueue.Cmd {
	return []atqueue.Cmd{cmd("AT", atqueue.FlagNone, atqueue.TimeoutShort)}
}

// InitBurst is the ordered list of commands the supervisor issues once a
// link is opened, before the device is considered initialized. CNMI/CPMS
// carry FlagSuppressError because some vendors omit a mode this device
// doesn't need; a failure there is logged quietly rather than as a
// warning (see dispatch's handling of the AT+CNMI/AT+CPMS/AT+CMGF group).
func InitBurst() []atqueue.Cmd {
	return []atqueue.Cmd{
		cmd("ATE0", atqueue.FlagNone, atqueue.TimeoutShort),
		cmd("AT+CMEE=1", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CPIN?", atqueue.FlagNone, atqueue.TimeoutMedium),
		cmd(`AT+CSCS="UCS2"`, atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CMGF=0", atqueue.FlagNone, atqueue.TimeoutShort),
		cmd("AT+CNMI=2,1,0,2,0", atqueue.FlagSuppressError, atqueue.TimeoutMedium),
		cmd(`AT+CPMS="ME","ME","ME"`, atqueue.FlagSuppressError, atqueue.TimeoutMedium),
		cmd("AT+CSMS=1", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CSCA?", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CNUM", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CVOICE?", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CLIP=1", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CREG=2", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CEREG=2", atqueue.FlagIgnore, atqueue.TimeoutShort),
		cmd("AT+CSQ", atqueue.FlagIgnore, atqueue.TimeoutShort),
	}
}

// Dial builds the outbound call command batch. clir, when non-empty
// ("0"/"1"/"2"), is sent as an AT+CLIR preamble; hold, when true, prefixes
// AT+CHLD=2 to place any already-active call on hold first. The batch is
// sent at_once since the modem accepts these chained.
func Dial(number string, clir string, hold bool) ([]atqueue.Cmd, error) {
	if err := ValidatePhoneNumber(number); err != nil {
		return nil, err
	}
	var cmds []atqueue.Cmd
	if clir != "" {
		cmds = append(cmds, cmd(fmt.Sprintf("AT+CLIR=%s", clir), atqueue.FlagNone, atqueue.TimeoutShort))
	}
	if hold {
		cmds = append(cmds, cmd("AT+CHLD=2", atqueue.FlagNone, atqueue.TimeoutMedium))
	}
	cmds = append(cmds, cmd(fmt.Sprintf("ATD%s;", number), atqueue.FlagNone, atqueue.TimeoutMedium))
	return cmds, nil
}

// Answer builds the answer command: plain ATA for the only ringing call,
// or AT+CHLD=2<idx> to pick up a specific call index among several.
func Answer(callIdx int, disambiguate bool) []atqueue.Cmd {
	if !disambiguate {
		return []atqueue.Cmd{cmd("ATA", atqueue.FlagNone, atqueue.TimeoutMedium)}
	}
	return []atqueue.Cmd{cmd(fmt.Sprintf("AT+CHLD=2%d", callIdx), atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// HangUp builds the hang-up command batch from the vendor-specific
// command lines already chosen by vendorops.Ops.HangUp.
func HangUp(vendorCmds []string) []atqueue.Cmd {
	cmds := make([]atqueue.Cmd, len(vendorCmds))
	for i, c := range vendorCmds {
		cmds[i] = cmd(c, atqueue.FlagNone, atqueue.TimeoutLong)
	}
	return cmds
}

// SMSSend builds the two-command PDU-mode send batch: the AT+CMGS
// prelude expecting the "> " prompt, then the hex PDU body terminated
// with Ctrl-Z expecting the final OK/+CMGS result.
func SMSSend(tpduLen int, hexPDU string) []atqueue.Cmd {
	return []atqueue.Cmd{
		{Name: fmt.Sprintf("AT+CMGS=%d", tpduLen), Expect: "> ", Timeout: atqueue.TimeoutMedium},
		{Name: hexPDU + "\x1a", Expect: "OK", Timeout: atqueue.TimeoutLong},
	}
}

// USSDSend builds an outbound USSD session command. payload is the
// already hex/GSM7-packed body per AT+CUSD's second argument.
func USSDSend(payload string) []atqueue.Cmd {
	return []atqueue.Cmd{cmd(fmt.Sprintf(`AT+CUSD=1,"%s",15`, payload), atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// ReadSMS builds the AT+CMGR command for a given storage index.
func ReadSMS(index int) []atqueue.Cmd {
	return []atqueue.Cmd{cmd(fmt.Sprintf("AT+CMGR=%d", index), atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// DeleteSMS builds the AT+CMGD command. flag, when non-zero, is passed
// as the second argument (e.g. 4 to delete all messages).
func DeleteSMS(index, flag int) []atqueue.Cmd {
	line := fmt.Sprintf("AT+CMGD=%d", index)
	if flag != 0 {
		line = fmt.Sprintf("AT+CMGD=%d,%d", index, flag)
	}
	return []atqueue.Cmd{cmd(line, atqueue.FlagIgnore, atqueue.TimeoutMedium)}
}

// ListSMS builds the AT+CMGL command for a given status filter (e.g. 4 = all).
func ListSMS(stat int) []atqueue.Cmd {
	return []atqueue.Cmd{cmd(fmt.Sprintf("AT+CMGL=%d", stat), atqueue.FlagNone, atqueue.TimeoutLong)}
}

// CallWaiting builds the AT+CCWA configuration/query command. mode 0
// disables, 1 enables, 2 queries; class is the usual AT+CCWA bitmask
// (1 = voice).
func CallWaiting(mode, class int) []atqueue.Cmd {
	return []atqueue.Cmd{cmd(fmt.Sprintf("AT+CCWA=1,%d,%d", mode, class), atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// Reset builds the full functional reset command.
func Reset() []atqueue.Cmd {
	return []atqueue.Cmd{cmd("AT+CFUN=1,1", atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// AckIncomingSMS builds the AT+CNMA acknowledgment command for new-message
// routing modes that require it. n is 0 to omit the optional argument.
func AckIncomingSMS(n int) []atqueue.Cmd {
	line := "AT+CNMA"
	if n != 0 {
		line = fmt.Sprintf("AT+CNMA=%d", n)
	}
	return []atqueue.Cmd{cmd(line, atqueue.FlagSuppressError, atqueue.TimeoutMedium)}
}

// UserCommand builds a command for an arbitrary operator-supplied AT
// command line, passed through unmodified.
func UserCommand(line string) []atqueue.Cmd {
	return []atqueue.Cmd{cmd(line, atqueue.FlagNone, atqueue.TimeoutMedium)}
}

// PollCLCC builds the AT+CLCC refresh command used both on a polling
// interval and reactively after a +CCWA notification.
func PollCLCC() []atqueue.Cmd {
	return []atqueue.Cmd{cmd("AT+CLCC", atqueue.FlagIgnore, atqueue.TimeoutShort)}
}
