package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vskvj3/geomys-list/internal/replicate/proto"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"
)

// ErrEmptyLog is returned by LoadRequests when the log holds no records.
var ErrEmptyLog = errors.New("no data found in binary log")

// Persistence manages the append-only binary command log. Each record is
// one msgpack-encoded proto.Command.
type Persistence struct {
	mu    sync.Mutex
	path  string
	mode  string
	file  *os.File
	buf   *bufio.Writer
	enc   *msgpack.Encoder
	dirty bool
}

// Open opens or creates the log at path. mode is utils.WriteThroughDisk,
// which syncs every record to disk, or utils.BufferedWrite.
func Open(path, mode string) (*Persistence, error) {
	if mode != utils.WriteThroughDisk && mode != utils.BufferedWrite {
		return nil, fmt.Errorf("unknown persistence mode %q", mode)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	// Open the file in append mode, create if needed
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	p := &Persistence{path: path, mode: mode, file: file}
	p.buf = bufio.NewWriter(file)
	p.enc = msgpack.NewEncoder(p.buf)
	return p, nil
}

// LogRequest appends a request to the log
func (p *Persistence) LogRequest(req map[string]interface{}) error {
	cmd, err := utils.ConvertRequestToCommand(req)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(cmd); err != nil {
		return err
	}
	if p.mode == utils.BufferedWrite {
		p.dirty = true
		return nil
	}
	if err := p.buf.Flush(); err != nil {
		return err
	}
	return p.file.Sync()
}

// Flush writes buffered records to disk.
func (p *Persistence) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *Persistence) flushLocked() error {
	if err := p.buf.Flush(); err != nil {
		return err
	}
	if !p.dirty {
		return nil
	}
	p.dirty = false
	return p.file.Sync()
}

// StartFlusher flushes buffered records every interval until ctx is done.
func (p *Persistence) StartFlusher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Flush(); err != nil {
					utils.GetLogger().Error("Flushing binary log failed", zap.Error(err))
				}
			}
		}
	}()
}

// LoadRequests reads the binary log from the start and returns the parsed
// requests. A truncated trailing record ends the load.
func (p *Persistence) LoadRequests() ([]map[string]interface{}, error) {
	cmds, err := p.LoadCommands()
	if err != nil {
		return nil, err
	}
	requests := make([]map[string]interface{}, 0, len(cmds))
	for _, cmd := range cmds {
		requests = append(requests, utils.ConvertCommandToRequest(cmd))
	}
	return requests, nil
}

// LoadCommands is LoadRequests without the conversion to request maps.
func (p *Persistence) LoadCommands() ([]*proto.Command, error) {
	if err := p.Flush(); err != nil {
		return nil, err
	}

	file, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cmds []*proto.Command
	dec := msgpack.NewDecoder(bufio.NewReader(file))
	for {
		cmd := &proto.Command{}
		if err := dec.Decode(cmd); err != nil {
			if !errors.Is(err, io.EOF) {
				utils.GetLogger().Warn("Stopping at unreadable record in binary log",
					zap.String("path", p.path), zap.Int("records", len(cmds)), zap.Error(err))
			}
			break
		}
		cmds = append(cmds, cmd)
	}

	if len(cmds) == 0 {
		return nil, ErrEmptyLog
	}
	return cmds, nil
}

// Close flushes and closes the log file.
func (p *Persistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushLocked(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}
