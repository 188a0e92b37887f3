package protocol

// MsgType is the value of the msg_type field that tags every message variant.
type MsgType string

const (
	MsgCallCommand      MsgType = "call_command"      // client -> host
	MsgNoSuchCommand    MsgType = "no_such_command"   // host -> client
	MsgCommandException MsgType = "command_exception" // host -> client
	MsgCommandResult    MsgType = "command_result"    // host -> client
	MsgRun              MsgType = "run"               // host -> client
	MsgFinished         MsgType = "finished"          // client -> host
)

// Reserved top-level keys present on every message.
const (
	FieldMsgType         = "msg_type"
	FieldProtocolVersion = "dapp_protocol_version"
	FieldCtxt            = "ctxt"
)

// Variant-specific keys.
const (
	FieldCommandType  = "command_type"
	FieldCommandInput = "command_input"
	FieldException    = "exception"
	FieldLres         = "lres"
	FieldRes          = "res"
)

// KnownTypes lists every message variant with a fixed schema.
var KnownTypes = []MsgType{
	MsgCallCommand,
	MsgNoSuchCommand,
	MsgCommandException,
	MsgCommandResult,
	MsgRun,
	MsgFinished,
}

// CommandResponseTypes are the variants a host may answer a call_command with.
var CommandResponseTypes = []MsgType{
	MsgNoSuchCommand,
	MsgCommandException,
	MsgCommandResult,
}

// Context is the ctxt mapping threaded through every message.
// It is extended across round trips and never replaced wholesale.
type Context map[string]any

// Merge copies every key of other into c, overwriting existing keys.
func (c Context) Merge(other map[string]any) {
	for k, v := range other {
		c[k] = v
	}
}

// Message is one decoded frame: a flat mapping whose reserved keys are
// msg_type, dapp_protocol_version and ctxt, with variant fields as siblings.
type Message map[string]any

// Type returns the msg_type tag, or "" if it is missing or not a string.
func (m Message) Type() MsgType {
	s, _ := m[FieldMsgType].(string)
	return MsgType(s)
}

// Version returns the dapp_protocol_version field, or "" if it is missing or not a string.
func (m Message) Version() string {
	s, _ := m[FieldProtocolVersion].(string)
	return s
}

// Ctxt returns the ctxt mapping. Messages returned by Conn.RecvMsg always carry one.
func (m Message) Ctxt() Context {
	switch c := m[FieldCtxt].(type) {
	case Context:
		return c
	case map[string]any:
		return Context(c)
	default:
		return nil
	}
}

// String returns a string field and whether it was present with string type.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Bool returns a bool field and whether it was present with bool type.
func (m Message) Bool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// Result returns the lres/res pair carried by command_result and finished messages.
func (m Message) Result() (bool, any) {
	lres, _ := m.Bool(FieldLres)
	return lres, m[FieldRes]
}

func containsType(types []MsgType, t MsgType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
