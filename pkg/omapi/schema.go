package omapi

// schema maps object value names to the kind the server expects. Values
// not listed are accepted with any kind
type schema map[string]Kind

var schemas = map[string]schema{
	"host": {
		"name":              KindString,
		"hardware-address":  KindBinary,
		"hardware-type":     KindInt,
		"ip-address":        KindIPv4,
		"client-identifier": KindBinary,
		"statements":        KindString,
		"known":             KindInt,
		"group":             KindString,
	},
	"lease": {
		"ip-address":       KindIPv4,
		"state":            KindInt,
		"hardware-address": KindBinary,
		"hardware-type":    KindInt,
		"client-hostname":  KindString,
		"ends":             KindInt,
	},
	"group": {
		"name":       KindString,
		"statements": KindString,
	},
}

func (s schema) check(name string, v Value) error {
	want, ok := s[name]
	if !ok {
		return nil
	}

	if want != v.Kind {
		return protocolErrorf("set "+name, "expected a %s value but got %s", want, v.Kind)
	}

	switch want {
	case KindInt, KindIPv4:
		if len(v.Data) != 4 {
			return protocolErrorf("set "+name, "%s value must be 4 bytes long, got %d", want, len(v.Data))
		}
	}

	return nil
}

// decode tags received values with the kind known from the schema
func (s schema) decode(fields Fields) Fields {
	for i := range fields {
		if k, ok := s[fields[i].Name]; ok {
			fields[i].Value.Kind = k
		}
	}
	return fields
}
