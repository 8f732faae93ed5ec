package mayastorpb

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "mayastor.Mayastor"

// Client issues south-bound RPCs against a single node's gRPC endpoint. It
// is a thin, hand-written analogue of what protoc-gen-go-grpc would emit --
// every method is a single grpc.ClientConn.Invoke call naming the full
// method path, exactly like generated client stubs do internally.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req, reply interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, reply)
}

func (c *Client) ListPools(ctx context.Context, req *ListPoolsRequest) (*ListPoolsReply, error) {
	reply := new(ListPoolsReply)
	return reply, c.invoke(ctx, "ListPools", req, reply)
}

func (c *Client) CreatePool(ctx context.Context, req *CreatePoolRequest) (*CreatePoolReply, error) {
	reply := new(CreatePoolReply)
	return reply, c.invoke(ctx, "CreatePool", req, reply)
}

func (c *Client) DestroyPool(ctx context.Context, req *DestroyPoolRequest) (*DestroyPoolReply, error) {
	reply := new(DestroyPoolReply)
	return reply, c.invoke(ctx, "DestroyPool", req, reply)
}

func (c *Client) ListReplicas(ctx context.Context, req *ListReplicasRequest) (*ListReplicasReply, error) {
	reply := new(ListReplicasReply)
	return reply, c.invoke(ctx, "ListReplicas", req, reply)
}

func (c *Client) CreateReplica(ctx context.Context, req *CreateReplicaRequest) (*CreateReplicaReply, error) {
	reply := new(CreateReplicaReply)
	return reply, c.invoke(ctx, "CreateReplica", req, reply)
}

func (c *Client) DestroyReplica(ctx context.Context, req *DestroyReplicaRequest) (*DestroyReplicaReply, error) {
	reply := new(DestroyReplicaReply)
	return reply, c.invoke(ctx, "DestroyReplica", req, reply)
}

func (c *Client) ShareReplica(ctx context.Context, req *ShareReplicaRequest) (*ShareReplicaReply, error) {
	reply := new(ShareReplicaReply)
	return reply, c.invoke(ctx, "ShareReplica", req, reply)
}

func (c *Client) ListNexus(ctx context.Context, req *ListNexusRequest) (*ListNexusReply, error) {
	reply := new(ListNexusReply)
	return reply, c.invoke(ctx, "ListNexus", req, reply)
}

func (c *Client) CreateNexus(ctx context.Context, req *CreateNexusRequest) (*CreateNexusReply, error) {
	reply := new(CreateNexusReply)
	return reply, c.invoke(ctx, "CreateNexus", req, reply)
}

func (c *Client) DestroyNexus(ctx context.Context, req *DestroyNexusRequest) (*DestroyNexusReply, error) {
	reply := new(DestroyNexusReply)
	return reply, c.invoke(ctx, "DestroyNexus", req, reply)
}

func (c *Client) AddChildNexus(ctx context.Context, req *AddChildNexusRequest) (*AddChildNexusReply, error) {
	reply := new(AddChildNexusReply)
	return reply, c.invoke(ctx, "AddChildNexus", req, reply)
}

func (c *Client) RemoveChildNexus(ctx context.Context, req *RemoveChildNexusRequest) (*RemoveChildNexusReply, error) {
	reply := new(RemoveChildNexusReply)
	return reply, c.invoke(ctx, "RemoveChildNexus", req, reply)
}

func (c *Client) PublishNexus(ctx context.Context, req *PublishNexusRequest) (*PublishNexusReply, error) {
	reply := new(PublishNexusReply)
	return reply, c.invoke(ctx, "PublishNexus", req, reply)
}

func (c *Client) UnpublishNexus(ctx context.Context, req *UnpublishNexusRequest) (*UnpublishNexusReply, error) {
	reply := new(UnpublishNexusReply)
	return reply, c.invoke(ctx, "UnpublishNexus", req, reply)
}
