package replicate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vskvj3/geomys-list/internal/core"
	"github.com/vskvj3/geomys-list/internal/replicate/proto"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	requestTimeout = 5 * time.Second
	syncTimeout    = 10 * time.Second
)

// ReplicationClient is used by followers to communicate with the leader,
// and by the leader to push writes to followers
type ReplicationClient struct {
	conn   *grpc.ClientConn
	client proto.ReplicationServiceClient
}

// NewReplicationClient initializes a gRPC client connection. The connection
// is established lazily on the first call.
func NewReplicationClient(address string, opts ...grpc.DialOption) (*ReplicationClient, error) {
	target := address
	if !strings.Contains(target, "://") {
		target = "passthrough:///" + address
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}

	return &ReplicationClient{
		conn:   conn,
		client: proto.NewReplicationServiceClient(conn),
	}, nil
}

// Close tears down the connection.
func (c *ReplicationClient) Close() error {
	return c.conn.Close()
}

// Forward a write request from follower to leader
func (c *ReplicationClient) ForwardRequest(ctx context.Context, nodeID int32, command *proto.Command) (*proto.CommandResponse, error) {
	req := &proto.CommandRequest{
		NodeId:  nodeID,
		Command: command,
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	return c.client.ForwardRequest(ctx, req)
}

// ReplicateRequest pushes one write to the node behind this client.
func (c *ReplicationClient) ReplicateRequest(ctx context.Context, command *proto.Command) (*proto.ReplicationAck, error) {
	if command == nil || command.Command == "" {
		return nil, fmt.Errorf("invalid or missing 'command' field in ReplicateRequest")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	utils.GetLogger().Debug("Sending ReplicateRequest", zap.String("command", command.Command), zap.String("key", command.Key))
	return c.client.ReplicateRequest(ctx, command)
}

// SyncRequest is called when a follower restarts to get the latest data.
// The leader's log is replayed into handler, followed by any replicated
// writes it held back meanwhile.
func (c *ReplicationClient) SyncRequest(ctx context.Context, nodeID int32, commandHandler *core.CommandHandler) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	resp, err := c.client.SyncRequest(ctx, &proto.SyncRequestMessage{NodeId: nodeID})
	if err != nil {
		return 0, err
	}

	requests := make([]map[string]interface{}, 0, len(resp.Commands))
	for _, command := range resp.Commands {
		requests = append(requests, utils.ConvertCommandToRequest(command))
	}
	applied, failed := commandHandler.ApplySnapshot(resp.Seq, requests)
	if failed > 0 {
		utils.GetLogger().Warn("Some commands failed during sync", zap.Int("applied", applied), zap.Int("failed", failed))
	}
	return applied, nil
}

// Replicator fans leader writes out to every follower, keeping one client
// per follower address.
type Replicator struct {
	Cluster     ClusterNodeProvider
	DialOptions []grpc.DialOption

	mu      sync.Mutex
	clients map[string]*ReplicationClient
}

func NewReplicator(cluster ClusterNodeProvider, opts ...grpc.DialOption) *Replicator {
	return &Replicator{
		Cluster:     cluster,
		DialOptions: opts,
		clients:     make(map[string]*ReplicationClient),
	}
}

// ReplicateToFollowers sends command to every follower. Failures are logged
// and joined into the returned error; they do not stop the fan-out.
func (r *Replicator) ReplicateToFollowers(ctx context.Context, command *proto.Command) error {
	logger := utils.GetLogger()

	var errs []error
	for nodeID, followerAddr := range r.Cluster.GetFollowerNodes() {
		client, err := r.client(followerAddr)
		if err != nil {
			logger.Error("Error connecting to follower", zap.Int32("node_id", nodeID), zap.String("addr", followerAddr), zap.Error(err))
			errs = append(errs, fmt.Errorf("follower %d: %w", nodeID, err))
			continue
		}

		ack, err := client.ReplicateRequest(ctx, command)
		if err == nil && !ack.Success {
			err = errors.New("follower rejected command")
		}
		if err != nil {
			logger.Error("Error replicating to follower", zap.Int32("node_id", nodeID), zap.String("addr", followerAddr), zap.Error(err))
			errs = append(errs, fmt.Errorf("follower %d: %w", nodeID, err))
			continue
		}
		logger.Debug("Replication success", zap.Int32("node_id", nodeID))
	}
	return errors.Join(errs...)
}

// ReplicateWrite sends a write the leader applied at log position seq to
// every follower. It serves as the leader handler's core.WriteHook.
func (r *Replicator) ReplicateWrite(seq uint64, request map[string]interface{}) error {
	command, err := utils.ConvertRequestToCommand(request)
	if err != nil {
		return err
	}
	command.Seq = seq
	return r.ReplicateToFollowers(context.Background(), command)
}

func (r *Replicator) client(addr string) (*ReplicationClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[addr]; ok {
		return c, nil
	}
	c, err := NewReplicationClient(addr, r.DialOptions...)
	if err != nil {
		return nil, err
	}
	r.clients[addr] = c
	return c, nil
}

// Close closes every cached follower connection.
func (r *Replicator) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, c := range r.clients {
		c.Close()
		delete(r.clients, addr)
	}
}
