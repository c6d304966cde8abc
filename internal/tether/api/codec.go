// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the gRPC service run without a .proto toolchain: messages
// are plain Go structs marshaled as JSON instead of protobuf wire format.
// Any grpc-go client dialing with grpc.CallContentSubtype("json") can talk
// to this server.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
