package ovnet

// ResultCode is the synchronous return value of every Node entry point,
// matching ZT_ResultCode's numeric ranges exactly (spec.md §6): fatal codes
// are >0 and <1000, non-fatal codes are >=1000.
type ResultCode int

const (
	ResultOK ResultCode = 0

	// Fatal errors (>0, <1000): the Node should be considered unusable.
	ResultFatalOutOfMemory  ResultCode = 1
	ResultFatalDataStoreIO  ResultCode = 2
	ResultFatalInternal     ResultCode = 3

	// Non-fatal errors (>=1000).
	ResultErrorNetworkNotFound       ResultCode = 1000
	ResultErrorUnsupportedOperation  ResultCode = 1001
	ResultErrorBadParameter          ResultCode = 1002
)

// Fatal reports whether code indicates the Node should be torn down,
// mirroring ZT_ResultCode_isFatal.
func (c ResultCode) Fatal() bool {
	return c > 0 && c < 1000
}

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultFatalOutOfMemory:
		return "FATAL_ERROR_OUT_OF_MEMORY"
	case ResultFatalDataStoreIO:
		return "FATAL_ERROR_DATA_STORE_FAILED"
	case ResultFatalInternal:
		return "FATAL_ERROR_INTERNAL"
	case ResultErrorNetworkNotFound:
		return "ERROR_NETWORK_NOT_FOUND"
	case ResultErrorUnsupportedOperation:
		return "ERROR_UNSUPPORTED_OPERATION"
	case ResultErrorBadParameter:
		return "ERROR_BAD_PARAMETER"
	default:
		return "ERROR_UNKNOWN"
	}
}

// Sentinel error types, in the style of ironwood's errors.go (empty structs
// with a fixed Error() string), used where a caller needs to distinguish
// error kinds via errors.As rather than string matching.

// DecodeError indicates malformed wire data that failed to parse.
type DecodeError struct{}

func (DecodeError) Error() string { return "ovnet: decode error" }

// AuthError indicates a packet whose MAC failed to verify.
type AuthError struct{}

func (AuthError) Error() string { return "ovnet: authentication error" }

// UnsupportedVerbError indicates a verb byte not recognized by this build.
type UnsupportedVerbError struct{}

func (UnsupportedVerbError) Error() string { return "ovnet: unsupported verb" }

// OversizedMessageError indicates a payload larger than the protocol allows.
type OversizedMessageError struct{}

func (OversizedMessageError) Error() string { return "ovnet: oversized message" }

// PeerNotFoundError indicates a reference to an address with no known peer.
type PeerNotFoundError struct{}

func (PeerNotFoundError) Error() string { return "ovnet: peer not found" }

// NetworkNotJoinedError indicates an operation on an nwid that is not joined.
type NetworkNotJoinedError struct{}

func (NetworkNotJoinedError) Error() string { return "ovnet: network not joined" }

// verbError codes sent in the ERROR verb payload (spec.md §4.4, supplemental
// per SPEC_FULL.md §4.4, reinstated from the original header's Packet::ERROR_*).
type verbErrorCode byte

const (
	verbErrorNone                         verbErrorCode = 0
	verbErrorInvalidRequest               verbErrorCode = 1
	verbErrorBadProtocolVersion           verbErrorCode = 2
	verbErrorObjNotFound                  verbErrorCode = 3
	verbErrorUnsupportedOperation         verbErrorCode = 4
	verbErrorIdentityCollision            verbErrorCode = 5
	verbErrorNeedMembershipCertificate    verbErrorCode = 6
	verbErrorNetworkAccessDenied          verbErrorCode = 7
	verbErrorUnwantedMulticast            verbErrorCode = 8
)
