package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vskvj3/geomys-list/internal/core"
	"github.com/vskvj3/geomys-list/internal/persistence"
	"github.com/vskvj3/geomys-list/internal/replicate"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
)

// RequestLoader supplies logged requests to replay on startup.
type RequestLoader interface {
	LoadRequests() ([]map[string]interface{}, error)
}

type Server struct {
	CommandHandler *core.CommandHandler
	Address        string
	NodeID         int32

	// Leader is set on followers: writes are forwarded through it.
	Leader *replicate.ReplicationClient

	listener net.Listener
	tomb     *tomb.Tomb

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(address string, handler *core.CommandHandler) *Server {
	return &Server{
		CommandHandler: handler,
		Address:        address,
		conns:          make(map[net.Conn]struct{}),
	}
}

// Restore rebuilds the key space before serving. A follower syncs from the
// leader; any other node replays its own command log.
func (s *Server) Restore(ctx context.Context, log RequestLoader) error {
	logger := utils.GetLogger()

	if s.Leader != nil {
		applied, err := s.Leader.SyncRequest(ctx, s.NodeID, s.CommandHandler)
		if err != nil {
			return err
		}
		logger.Info("Re-synced from leader", zap.Int("commands", applied))
		return nil
	}

	if log == nil {
		return nil
	}
	requests, err := log.LoadRequests()
	if errors.Is(err, persistence.ErrEmptyLog) {
		logger.Info("Command log is empty, starting fresh")
		return nil
	}
	if err != nil {
		return err
	}
	applied, failed := s.CommandHandler.Replay(requests)
	logger.Info("Loaded data from persistence", zap.Int("applied", applied), zap.Int("failed", failed))
	return nil
}

// Start binds the listener and serves connections until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	logger := utils.GetLogger()

	// Attempt to bind to the configured address
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		logger.Warn("Address unavailable. Selecting a random port...", zap.String("addr", s.Address), zap.Error(err))
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return err
		}
	}
	s.listener = listener
	logger.Info("Server is listening", zap.String("addr", listener.Addr().String()))

	t, ctx := tomb.WithContext(ctx)
	s.tomb = t
	t.Go(func() error {
		<-t.Dying()
		listener.Close()
		s.closeConns()
		return nil
	})
	t.Go(func() error {
		return s.serve(ctx)
	})
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and every client connection and waits for the
// handlers to return.
func (s *Server) Stop() error {
	if s.tomb == nil {
		return nil
	}
	s.tomb.Kill(nil)
	return s.tomb.Wait()
}

func (s *Server) serve(ctx context.Context) error {
	logger := utils.GetLogger()

	// Accept incoming connections
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.tomb.Dying():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Error("Error accepting connection", zap.Error(err))
			continue
		}
		logger.Info("Accepted client", zap.String("remote", conn.RemoteAddr().String()))

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.tomb.Go(func() error {
			s.HandleConnection(ctx, conn)
			return nil
		})
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// HandleConnection serves one client. Requests and responses are a stream
// of msgpack maps, one response per request.
func (s *Server) HandleConnection(ctx context.Context, conn net.Conn) {
	logger := utils.GetLogger().With(zap.String("remote", conn.RemoteAddr().String()))
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		logger.Info("Client disconnected")
	}()

	dec := msgpack.NewDecoder(bufio.NewReader(conn))
	enc := msgpack.NewEncoder(conn)
	for {
		var request map[string]interface{}
		if err := dec.Decode(&request); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug("Client closed the connection")
			} else {
				logger.Error("Failed to decode request", zap.Error(err))
			}
			return
		}
		logger.Debug("Received request", zap.Any("command", request["command"]))

		response := s.process(ctx, request)
		if err := enc.Encode(response); err != nil {
			logger.Error("Failed to send response", zap.Error(err))
			return
		}
	}
}

func (s *Server) process(ctx context.Context, request map[string]interface{}) map[string]interface{} {
	logger := utils.GetLogger()

	command, _ := request["command"].(string)
	write := core.IsWriteCommand(command)

	// If not the leader and command is a write, forward it to the leader
	if s.Leader != nil && write {
		cmd, err := utils.ConvertRequestToCommand(request)
		if err != nil {
			return errorResponse(err.Error())
		}
		resp, err := s.Leader.ForwardRequest(ctx, s.NodeID, cmd)
		if err != nil {
			logger.Error("Forward request failed", zap.Error(err))
			return errorResponse("Failed to forward request to leader")
		}
		response := map[string]interface{}{"status": resp.Status}
		if resp.Message != "" {
			response["message"] = resp.Message
		}
		for k, v := range resp.Fields {
			response[k] = v
		}
		return response
	}

	// Process command normally; on the leader the handler's write hook
	// replicates successful writes
	response, err := s.CommandHandler.HandleCommand(request)
	if err != nil {
		return errorResponse(err.Error())
	}
	return response
}

func errorResponse(message string) map[string]interface{} {
	return map[string]interface{}{"status": "ERROR", "message": message}
}
