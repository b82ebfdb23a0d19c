// Package codec is the JSON wire format shared by the HTTP endpoints and the
// gRPC service.
package codec

import (
	"io"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc/encoding"
)

// Name is the gRPC content-subtype the codec is registered under.
const Name = "json"

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// GRPC plugs the JSON codec into grpc-go. Messages are plain Go structs, so
// no generated protobuf code is involved.
type GRPC struct{}

func (GRPC) Marshal(v any) ([]byte, error) {
	return Marshal(v)
}

func (GRPC) Unmarshal(data []byte, v any) error {
	return Unmarshal(data, v)
}

func (GRPC) Name() string {
	return Name
}

func init() {
	encoding.RegisterCodec(GRPC{})
}
