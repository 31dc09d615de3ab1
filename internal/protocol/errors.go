package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Membership.
	ErrNotJoined  = "E_NOT_JOINED"
	ErrNameInUse  = "E_NAME_IN_USE"
	ErrUnknownOp  = "E_UNKNOWN_OP"
	ErrBadRequest = "E_BAD_REQUEST"

	// Intent layer.
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrTimeout       = "E_TIMEOUT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNotJoined:       {},
	ErrNameInUse:       {},
	ErrUnknownOp:       {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrTimeout:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
