package replicate

import (
	"context"
	"errors"

	"github.com/vskvj3/geomys-list/internal/core"
	"github.com/vskvj3/geomys-list/internal/persistence"
	"github.com/vskvj3/geomys-list/internal/replicate/proto"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReplicationServer handles leader-follower replication
type ReplicationServer struct {
	CommandHandler *core.CommandHandler
	Log            PersistenceProvider
}

var _ proto.ReplicationServiceServer = (*ReplicationServer)(nil)

func NewReplicationServer(handler *core.CommandHandler, log PersistenceProvider) *ReplicationServer {
	return &ReplicationServer{
		CommandHandler: handler,
		Log:            log,
	}
}

// NewGrpcServer returns a gRPC server with s registered on it.
func NewGrpcServer(s *ReplicationServer, opts ...grpc.ServerOption) *grpc.Server {
	grpcServer := grpc.NewServer(opts...)
	proto.RegisterReplicationServiceServer(grpcServer, s)
	return grpcServer
}

// ForwardRequest runs a follower's write on the leader. The leader's write
// hook replicates it to every follower, the sender included. Command
// failures come back in the response status rather than as a gRPC error.
func (s *ReplicationServer) ForwardRequest(ctx context.Context, req *proto.CommandRequest) (*proto.CommandResponse, error) {
	if req.Command == nil || req.Command.Command == "" {
		return nil, status.Error(codes.InvalidArgument, "missing command")
	}
	utils.GetLogger().Debug("Forwarded request", zap.Int32("from", req.NodeId), zap.String("command", req.Command.Command))

	response, err := s.CommandHandler.HandleCommand(utils.ConvertCommandToRequest(req.Command))
	if err != nil {
		return &proto.CommandResponse{Status: "ERROR", Message: err.Error()}, nil
	}
	return toCommandResponse(response), nil
}

// ReplicateRequest is called by the leader to sync a command to followers
func (s *ReplicationServer) ReplicateRequest(ctx context.Context, command *proto.Command) (*proto.ReplicationAck, error) {
	if command == nil || command.Command == "" {
		return nil, status.Error(codes.InvalidArgument, "missing command")
	}
	if !core.IsWriteCommand(command.Command) {
		return nil, status.Errorf(codes.InvalidArgument, "%s is not a write command", command.Command)
	}

	if err := s.CommandHandler.ApplyReplicated(command.Seq, utils.ConvertCommandToRequest(command)); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &proto.ReplicationAck{Success: true}, nil
}

// SyncRequest is called when a follower restarts and wants the latest data.
// Writes are paused while the log is read, so the returned position matches
// the last command in the snapshot.
func (s *ReplicationServer) SyncRequest(ctx context.Context, req *proto.SyncRequestMessage) (*proto.SyncResponse, error) {
	if s.Log == nil {
		return nil, status.Error(codes.FailedPrecondition, "node has no command log")
	}

	resp := &proto.SyncResponse{}
	err := s.CommandHandler.Checkpoint(func(seq uint64) error {
		commands, err := s.Log.LoadCommands()
		if err != nil && !errors.Is(err, persistence.ErrEmptyLog) {
			return err
		}
		resp.Commands, resp.Seq = commands, seq
		return nil
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	utils.GetLogger().Info("Serving sync request", zap.Int32("node_id", req.NodeId), zap.Int("commands", len(resp.Commands)), zap.Uint64("seq", resp.Seq))
	return resp, nil
}

func toCommandResponse(response map[string]interface{}) *proto.CommandResponse {
	out := &proto.CommandResponse{Status: "OK", Fields: make(map[string]interface{})}
	for k, v := range response {
		switch k {
		case "status":
			if s, ok := v.(string); ok {
				out.Status = s
			}
		case "message":
			if s, ok := v.(string); ok {
				out.Message = s
			}
		default:
			out.Fields[k] = v
		}
	}
	return out
}
