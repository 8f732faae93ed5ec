package mayastorpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is deliberately NOT "proto": the CSI façade in this same binary
// dials real protobuf services, and registering under "proto" would replace
// grpc-go's own protobuf codec process-wide. Clients select this codec
// explicitly per call via grpc.CallContentSubtype(codecName).
// CodecName is the gRPC call content-subtype that selects the JSON codec
// registered below. Callers opt in per-call via
// grpc.CallContentSubtype(CodecName) (or as a default dial option) rather
// than relying on grpc-go's "proto" codec, since that name is reserved for
// real protobuf traffic elsewhere in the same binary (the CSI façade).
const CodecName = "mayastorjson"

const codecName = CodecName

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("mayastorpb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
