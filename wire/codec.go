package wire

import jsoniter "github.com/json-iterator/go"

// json is configured to match encoding/json's field visibility and tag
// rules exactly, so the message structs in messages.go need no special
// tagging; jsoniter is used purely for its faster reflection-based
// codec, not for any format difference.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodePayload marshals a message (one of this package's *Msg/Action/
// Request/Response types) into the bytes carried as a frame's payload.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload unmarshals a frame's payload into v, which must be a
// pointer to the message type identified by the frame's PackageType.
func DecodePayload(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
