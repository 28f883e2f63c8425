// Package corerr defines the closed set of error kinds the driver core can
// report to its host, and the wrapping conventions used across packages.
package corerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the closed enumeration of ways a device operation can fail.
// Hosts are expected to switch on Kind rather than match error strings;
// no other Kind values are ever produced.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceDisabled
	KindDeviceNotFound
	KindDeviceDisconnected
	KindInvalidUssd
	KindInvalidPhoneNumber
	KindParseUtf8
	KindParseUcs2
	KindEncodeGsm7
	KindPackGsm7
	KindDecodeGsm7
	KindSmsdb
	KindQueue
	KindBuildPdu
	KindParseCmgrLine
	KindInvalidTpduLength
	KindMalformedHexstr
	KindInvalidSca
	KindInvalidTpduType
	KindParseTpdu
	KindInvalidTimestamp
	KindInvalidCharset
	KindBuildSca
	KindBuildPhoneNumber
	KindTooBig
	KindCmdFormat
	KindAllocFail
	KindTextTooLong
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindDeviceDisabled:     "device_disabled",
	KindDeviceNotFound:     "device_not_found",
	KindDeviceDisconnected: "device_disconnected",
	KindInvalidUssd:        "invalid_ussd",
	KindInvalidPhoneNumber: "invalid_phone_number",
	KindParseUtf8:          "parse_utf8",
	KindParseUcs2:          "parse_ucs2",
	KindEncodeGsm7:         "encode_gsm7",
	KindPackGsm7:           "pack_gsm7",
	KindDecodeGsm7:         "decode_gsm7",
	KindSmsdb:              "smsdb",
	KindQueue:              "queue",
	KindBuildPdu:           "build_pdu",
	KindParseCmgrLine:      "parse_cmgr_line",
	KindInvalidTpduLength:  "invalid_tpdu_length",
	KindMalformedHexstr:    "malformed_hexstr",
	KindInvalidSca:         "invalid_sca",
	KindInvalidTpduType:    "invalid_tpdu_type",
	KindParseTpdu:          "parse_tpdu",
	KindInvalidTimestamp:   "invalid_timestamp",
	KindInvalidCharset:     "invalid_charset",
	KindBuildSca:           "build_sca",
	KindBuildPhoneNumber:   "build_phone_number",
	KindTooBig:             "too_big",
	KindCmdFormat:          "cmd_format",
	KindAllocFail:          "alloc_fail",
	KindTextTooLong:        "text_too_long",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the concrete error type returned across package boundaries. It
// carries a Kind for programmatic handling and an optional wrapped cause
// for diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates cause with message and classifies it as kind. It uses
// github.com/pkg/errors so the resulting error retains a stack trace from
// the call site, which is useful when corerr.Error surfaces a cause from
// deep inside the AT queue or response dispatcher.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: pkgerrors.Wrap(cause, message)}
}

// KindOf extracts the Kind of err, walking the Unwrap chain. It returns
// KindUnknown if err is nil or does not wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is a corerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
