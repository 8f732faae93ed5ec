// Package nodeclient implements the reconnectable RPC session used to talk
// to a single storage node's Mayastor gRPC endpoint (component C1 of the
// control plane). It owns the grpc.ClientConn lifecycle and classifies
// south-bound RPC failures into the error taxonomy the rest of the control
// plane reasons about (NOT_FOUND, ALREADY_EXISTS, RESOURCE_EXHAUSTED, ...).
package nodeclient
