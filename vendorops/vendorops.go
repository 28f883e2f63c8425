// Package vendorops isolates the handful of AT-command branches that
// differ between SIMCom-family modems and the rest (principally
// Quectel), the is_simcom polymorphism. A Device caches which VendorOps
// to use once `AT+CVOICE?`'s response family is known, and defers to it
// for hang-up and audio-path commands whose correct form depends on the
// vendor.
package vendorops

import "fmt"

// Ops is implemented once per vendor family. Every method returns the
// literal AT command line to enqueue (without trailing CR; atqueue adds
// line termination), so callers never branch on vendor themselves.
type Ops interface {
	// Name identifies the family for logging.
	Name() string

	// HangUp returns the command(s) to end the call at callIdx, given
	// whether other calls are currently live on the device.
	HangUp(callIdx int, otherCallsLive bool) []string

	// VoiceModeProbe returns the command used to detect this family, for
	// documentation purposes; detection itself happens in dispatch by
	// matching the response prefix (+QPCMV: vs +CPCMREG:).
	VoiceModeProbe() string
}

type simcom struct{}

func (simcom) Name() string { return "simcom" }

func (simcom) HangUp(callIdx int, otherCallsLive bool) []string {
	if !otherCallsLive {
		return []string{"AT+CHUP"}
	}
	return []string{fmt.Sprintf("AT+CHLD=1%d", callIdx)}
}

func (simcom) VoiceModeProbe() string { return "AT+CPCMREG?" }

type quectel struct{}

func (quectel) Name() string { return "quectel" }

func (quectel) HangUp(callIdx int, otherCallsLive bool) []string {
	cmds := []string{fmt.Sprintf("AT+QHUP=1,%d", callIdx)}
	if !otherCallsLive {
		cmds = append(cmds, "AT+CHUP")
	} else {
		cmds = append(cmds, fmt.Sprintf("AT+CHLD=1%d", callIdx))
	}
	return cmds
}

func (quectel) VoiceModeProbe() string { return "AT+QPCMV?" }

// SIMCom is the vendorops.Ops for SIMCom-family modems (detected via a
// +CPCMREG: response to the voice-mode probe).
var SIMCom Ops = simcom{}

// Quectel is the vendorops.Ops for everything else (detected via a
// +QPCMV: response), named for the vendor family most devices belong to.
var Quectel Ops = quectel{}

// ForIsSimcom returns SIMCom or Quectel per the cached is_simcom flag a
// Device sets once during AT+CVOICE family detection.
func ForIsSimcom(isSimcom bool) Ops {
	if isSimcom {
		return SIMCom
	}
	return Quectel
}
