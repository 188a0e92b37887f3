package protocol

// Version is the compiled-in dapp protocol version. It is attached to every
// outgoing message and compared by exact string equality on every incoming one.
const Version = "1"

// checkVersion fails with a ProtocolVersionMismatch unless msg carries want
// as a string. There is no range or partial compatibility.
func checkVersion(msg Message, want string) error {
	raw, present := msg[FieldProtocolVersion]
	got, isString := raw.(string)
	if present && isString && got == want {
		return nil
	}
	return &Error{
		Kind:    KindProtocolVersionMismatch,
		MsgType: msg.Type(),
		Version: raw,
		Want:    want,
	}
}
