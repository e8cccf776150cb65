package transport

// rawFrame carries an already wire-framed message (see frame/unframe in
// wire.go) straight through gRPC. The service methods below do the real
// encoding/decoding with protowire; this codec exists only so gRPC
// doesn't try to run its own (generated-message-shaped) proto codec on
// top of bytes that were never backed by a .pb.go type.
type rawFrame []byte

type rawCodec struct{}

func (rawCodec) Name() string { return "raftkv-raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *rawFrame:
		return *m, nil
	case rawFrame:
		return m, nil
	default:
		return nil, errUnknownKind
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawFrame)
	if !ok {
		return errUnknownKind
	}
	*m = append((*m)[:0], data...)
	return nil
}
