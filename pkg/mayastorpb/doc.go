/*
Package mayastorpb defines the south-bound node RPC surface: the request and
reply message shapes for the fourteen pool/replica/nexus methods a storage
node exposes, plus a Client that issues them over a real *grpc.ClientConn.

There is no .proto file here. The wire format is not specified bit-for-bit by
this system's design -- only the RPC semantics and status-code taxonomy are --
so messages are plain Go structs marshaled as JSON by a codec registered
under the name "mayastorjson" (see codec.go), giving every call real HTTP/2 framing, deadlines
and grpc/codes.Code statuses without a protoc step.
*/
package mayastorpb
