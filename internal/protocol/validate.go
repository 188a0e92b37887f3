package protocol

import "fmt"

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldBool
	fieldAny
)

type fieldSpec struct {
	name string
	kind fieldKind
}

// requiredFields lists the variant-specific fields each known msg_type must carry.
// Types absent from this table are generic data messages with free-form keys.
var requiredFields = map[MsgType][]fieldSpec{
	MsgCallCommand: {
		{FieldCommandType, fieldString},
		{FieldCommandInput, fieldString},
	},
	MsgNoSuchCommand: nil,
	MsgCommandException: {
		{FieldException, fieldString},
	},
	MsgCommandResult: {
		{FieldLres, fieldBool},
		{FieldRes, fieldAny},
	},
	MsgRun: nil,
	MsgFinished: {
		{FieldLres, fieldBool},
		{FieldRes, fieldAny},
	},
}

// normalizeMessage checks the reserved keys of a freshly decoded mapping.
// A missing ctxt is replaced with an empty Context.
func normalizeMessage(raw map[string]any) (Message, error) {
	msg := Message(raw)

	rawType, ok := raw[FieldMsgType]
	if !ok {
		return nil, malformed("missing "+FieldMsgType, nil)
	}
	if _, ok := rawType.(string); !ok {
		return nil, malformed(fmt.Sprintf("%s must be a string, got %T", FieldMsgType, rawType), nil)
	}

	switch c := raw[FieldCtxt].(type) {
	case nil:
		msg[FieldCtxt] = Context{}
	case map[string]any:
		msg[FieldCtxt] = Context(c)
	default:
		return nil, malformed(fmt.Sprintf("%s must be a mapping, got %T", FieldCtxt, c), nil)
	}

	return msg, nil
}

// validateFields checks the variant-specific fields of msg.
func validateFields(msg Message) error {
	for _, f := range requiredFields[msg.Type()] {
		v, ok := msg[f.name]
		if !ok {
			return malformed(fmt.Sprintf("%s message missing required field %s", msg.Type(), f.name), nil)
		}
		switch f.kind {
		case fieldString:
			if _, ok := v.(string); !ok {
				return malformed(fmt.Sprintf("%s.%s must be a string, got %T", msg.Type(), f.name, v), nil)
			}
		case fieldBool:
			if _, ok := v.(bool); !ok {
				return malformed(fmt.Sprintf("%s.%s must be a bool, got %T", msg.Type(), f.name, v), nil)
			}
		}
	}
	return nil
}
