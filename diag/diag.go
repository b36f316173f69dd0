// Package diag defines the structured errors and warnings reported while
// demultiplexing and validating an Ogg Vorbis stream.
//
// Fatal conditions are returned as *Error values carrying a Kind, so callers
// can branch on errors.Is against the package sentinels or on KindOf.
// Recoverable irregularities are reported as Warning values next to the data
// that was parsed successfully.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal decode error.
type Kind int

const (
	// IO covers errors propagated from the underlying byte source,
	// including short reads.
	IO Kind = iota
	InvalidSignature
	UnsupportedVersion
	InvalidChannels
	InvalidSampleRate
	InvalidBlocksize
	ZeroFramingBit
	CRCMismatch
	UnsupportedSetupHeader
	UnsupportedContinuedOrMultiPacketPage
	InvalidPacketType
)

var kindNames = [...]string{
	IO:                                    "io",
	InvalidSignature:                      "invalid_signature",
	UnsupportedVersion:                    "unsupported_version",
	InvalidChannels:                       "invalid_channels",
	InvalidSampleRate:                     "invalid_sample_rate",
	InvalidBlocksize:                      "invalid_blocksize",
	ZeroFramingBit:                        "zero_framing_bit",
	CRCMismatch:                           "crc_mismatch",
	UnsupportedSetupHeader:                "unsupported_setup_header",
	UnsupportedContinuedOrMultiPacketPage: "unsupported_continued_or_multi_packet_page",
	InvalidPacketType:                     "invalid_packet_type",
}

// String returns the stable snake_case name used in reports.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets Kind appear by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("diag: unknown error kind %q", b)
}

// Error is a fatal decode error. Op names the operation that failed
// (for example "ogg: read page") and Err carries optional detail.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same Kind, so
// errors.Is(err, diag.ErrCRCMismatch) matches any CRC failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is matching, one per Kind.
var (
	ErrInvalidSignature                      = &Error{Kind: InvalidSignature}
	ErrUnsupportedVersion                    = &Error{Kind: UnsupportedVersion}
	ErrInvalidChannels                       = &Error{Kind: InvalidChannels}
	ErrInvalidSampleRate                     = &Error{Kind: InvalidSampleRate}
	ErrInvalidBlocksize                      = &Error{Kind: InvalidBlocksize}
	ErrZeroFramingBit                        = &Error{Kind: ZeroFramingBit}
	ErrCRCMismatch                           = &Error{Kind: CRCMismatch}
	ErrUnsupportedSetupHeader                = &Error{Kind: UnsupportedSetupHeader}
	ErrUnsupportedContinuedOrMultiPacketPage = &Error{Kind: UnsupportedContinuedOrMultiPacketPage}
	ErrInvalidPacketType                     = &Error{Kind: InvalidPacketType}
)

// Errorf builds an *Error with a formatted detail message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or IO for
// any other non-nil error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IO
}

// WarningCode identifies a recoverable irregularity.
type WarningCode int

const (
	WarnZeroFramingBit WarningCode = iota + 1
	WarnTruncatedComments
	WarnPageSequenceGap
)

func (c WarningCode) String() string {
	switch c {
	case WarnZeroFramingBit:
		return "zero_framing_bit"
	case WarnTruncatedComments:
		return "truncated_comments"
	case WarnPageSequenceGap:
		return "page_sequence_gap"
	}
	return fmt.Sprintf("warning(%d)", int(c))
}

// MarshalText lets WarningCode appear by name in JSON reports.
func (c WarningCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (c *WarningCode) UnmarshalText(b []byte) error {
	for code := WarnZeroFramingBit; code <= WarnPageSequenceGap; code++ {
		if code.String() == string(b) {
			*c = code
			return nil
		}
	}
	return fmt.Errorf("diag: unknown warning code %q", b)
}

// Warning is a non-fatal finding returned alongside successfully parsed data.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return w.Code.String() + ": " + w.Message
}
