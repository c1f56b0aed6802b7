// Package proto declares the replication service messages and the gRPC
// service description. Messages travel as msgpack through Codec rather than
// as protobuf.
package proto

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Command is a single client request as it travels between nodes.
type Command struct {
	Command string   `msgpack:"command"`
	Key     string   `msgpack:"key,omitempty"`
	Value   string   `msgpack:"value,omitempty"`
	Values  []string `msgpack:"values,omitempty"`
	Message string   `msgpack:"message,omitempty"`
	Index   int64    `msgpack:"index,omitempty"`
	Stop    int64    `msgpack:"stop,omitempty"`
	Offset  int64    `msgpack:"offset,omitempty"`
	Exp     int64    `msgpack:"exp,omitempty"`

	// HasIndex distinguishes an explicit index 0 from an absent one.
	HasIndex  bool `msgpack:"has_index,omitempty"`
	HasStop   bool `msgpack:"has_stop,omitempty"`
	HasOffset bool `msgpack:"has_offset,omitempty"`

	// Seq is the leader's log position of a replicated write. Zero means
	// unnumbered.
	Seq uint64 `msgpack:"seq,omitempty"`
}

type CommandRequest struct {
	NodeId  int32    `msgpack:"node_id"`
	Command *Command `msgpack:"command"`
}

type CommandResponse struct {
	Status  string                 `msgpack:"status"`
	Message string                 `msgpack:"message,omitempty"`
	Fields  map[string]interface{} `msgpack:"fields,omitempty"`
}

type ReplicationAck struct {
	Success bool `msgpack:"success"`
}

type SyncRequestMessage struct {
	NodeId int32 `msgpack:"node_id"`
}

// SyncResponse carries the leader's whole log. Seq is the log position the
// snapshot ends at.
type SyncResponse struct {
	Commands []*Command `msgpack:"commands"`
	Seq      uint64     `msgpack:"seq"`
}

// CodecName is the gRPC content-subtype used by the replication service.
const CodecName = "geomys-msgpack"

// Codec marshals replication messages with msgpack.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(Codec{})
}

// ReplicationServiceServer is the server API for the replication service.
type ReplicationServiceServer interface {
	// ForwardRequest executes a follower's write on the leader.
	ForwardRequest(context.Context, *CommandRequest) (*CommandResponse, error)
	// ReplicateRequest applies a leader's write on a follower.
	ReplicateRequest(context.Context, *Command) (*ReplicationAck, error)
	// SyncRequest returns the leader's command log.
	SyncRequest(context.Context, *SyncRequestMessage) (*SyncResponse, error)
}

const serviceName = "geomys.ReplicationService"

const (
	forwardMethod   = "/" + serviceName + "/ForwardRequest"
	replicateMethod = "/" + serviceName + "/ReplicateRequest"
	syncMethod      = "/" + serviceName + "/SyncRequest"
)

// ReplicationServiceClient is the client API for the replication service.
type ReplicationServiceClient interface {
	ForwardRequest(ctx context.Context, in *CommandRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	ReplicateRequest(ctx context.Context, in *Command, opts ...grpc.CallOption) (*ReplicationAck, error)
	SyncRequest(ctx context.Context, in *SyncRequestMessage, opts ...grpc.CallOption) (*SyncResponse, error)
}

type replicationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewReplicationServiceClient(cc grpc.ClientConnInterface) ReplicationServiceClient {
	return &replicationServiceClient{cc}
}

func (c *replicationServiceClient) ForwardRequest(ctx context.Context, in *CommandRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	out := new(CommandResponse)
	if err := c.cc.Invoke(ctx, forwardMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replicationServiceClient) ReplicateRequest(ctx context.Context, in *Command, opts ...grpc.CallOption) (*ReplicationAck, error) {
	out := new(ReplicationAck)
	if err := c.cc.Invoke(ctx, replicateMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replicationServiceClient) SyncRequest(ctx context.Context, in *SyncRequestMessage, opts ...grpc.CallOption) (*SyncResponse, error) {
	out := new(SyncResponse)
	if err := c.cc.Invoke(ctx, syncMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// RegisterReplicationServiceServer registers srv with s.
func RegisterReplicationServiceServer(s grpc.ServiceRegistrar, srv ReplicationServiceServer) {
	s.RegisterService(&replicationServiceDesc, srv)
}

func forwardRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServiceServer).ForwardRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: forwardMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplicationServiceServer).ForwardRequest(ctx, req.(*CommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func replicateRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Command)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServiceServer).ReplicateRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: replicateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplicationServiceServer).ReplicateRequest(ctx, req.(*Command))
	}
	return interceptor(ctx, in, info, handler)
}

func syncRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SyncRequestMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServiceServer).SyncRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: syncMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplicationServiceServer).SyncRequest(ctx, req.(*SyncRequestMessage))
	}
	return interceptor(ctx, in, info, handler)
}

var replicationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReplicationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ForwardRequest", Handler: forwardRequestHandler},
		{MethodName: "ReplicateRequest", Handler: replicateRequestHandler},
		{MethodName: "SyncRequest", Handler: syncRequestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replication.go",
}
