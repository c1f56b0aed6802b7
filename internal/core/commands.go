package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vskvj3/geomys-list/internal/metrics"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"
)

// CommandLog records write requests so they can be replayed on restart.
type CommandLog interface {
	LogRequest(req map[string]interface{}) error
}

// WriteHook receives every write that was applied, in apply order, along
// with its log position.
type WriteHook func(seq uint64, request map[string]interface{}) error

type CommandHandler struct {
	Database    *Database
	Persistence CommandLog
	Metrics     *metrics.Collector
	// OnWrite is set on the leader to pass writes on to followers.
	OnWrite WriteHook

	// writeMu orders writes: the log, the key space and OnWrite all see
	// them in the same sequence.
	writeMu sync.Mutex
	seq     uint64
	holding bool
	pending []pendingWrite
}

type pendingWrite struct {
	seq     uint64
	request map[string]interface{}
}

// Create a new CommandHandler instance
func NewCommandHandler(db *Database) *CommandHandler {
	return &CommandHandler{Database: db}
}

var writeCommands = map[string]bool{
	"SET":     true,
	"DEL":     true,
	"INCR":    true,
	"PUSH":    true,
	"LPUSH":   true,
	"RPUSH":   true,
	"LPOP":    true,
	"RPOP":    true,
	"LINSERT": true,
	"LSET":    true,
	"LREM":    true,
	"FLUSH":   true,
}

var readCommands = map[string]bool{
	"PING":   true,
	"ECHO":   true,
	"GET":    true,
	"LINDEX": true,
	"LLEN":   true,
	"LRANGE": true,
}

// IsWriteCommand reports whether command mutates the key space.
func IsWriteCommand(command string) bool {
	return writeCommands[strings.ToUpper(command)]
}

// HandleCommand processes a client request and returns the response to send.
// Writes are appended to the command log before they are applied.
func (h *CommandHandler) HandleCommand(request map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	command, _ := request["command"].(string)
	command = strings.ToUpper(command)

	var response map[string]interface{}
	var err error
	if writeCommands[command] {
		h.writeMu.Lock()
		response, err = h.writeLocked(command, request)
		h.writeMu.Unlock()
	} else {
		response, err = h.execute(command, request)
	}

	h.observe(command, err, time.Since(start))
	return response, err
}

// writeLocked logs request, applies it and hands it to OnWrite. A write
// that fails after logging leaves a record that fails the same way on
// replay. writeMu must be held.
func (h *CommandHandler) writeLocked(command string, request map[string]interface{}) (map[string]interface{}, error) {
	logger := utils.GetLogger()

	if h.Persistence != nil {
		if err := h.Persistence.LogRequest(request); err != nil {
			logger.Error("Request logging to disk failed", zap.String("command", command), zap.Error(err))
			return nil, fmt.Errorf("request logging to disk failed: %w", err)
		}
	}
	h.seq++

	response, err := h.execute(command, request)
	if err != nil {
		return nil, err
	}
	if h.OnWrite != nil {
		if err := h.OnWrite(h.seq, request); err != nil {
			logger.Warn("Write not replicated to every follower", zap.String("command", command), zap.Uint64("seq", h.seq), zap.Error(err))
		}
	}
	return response, nil
}

func (h *CommandHandler) observe(command string, err error, elapsed time.Duration) {
	if h.Metrics == nil {
		return
	}
	status := "OK"
	if err != nil {
		status = "ERROR"
	}
	label := command
	if !writeCommands[command] && !readCommands[command] {
		label = "UNKNOWN"
	}
	h.Metrics.ObserveCommand(label, status, elapsed)
	if writeCommands[command] && err == nil {
		h.Metrics.SetListCount(h.Database.ListCount())
	}
}

// Replay re-applies logged requests in order without logging them again.
// Requests that fail are skipped and counted. Every request, failed or not,
// advances the log position.
func (h *CommandHandler) Replay(requests []map[string]interface{}) (applied, failed int) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.replayLocked(requests)
}

func (h *CommandHandler) replayLocked(requests []map[string]interface{}) (applied, failed int) {
	logger := utils.GetLogger()
	for _, req := range requests {
		command, _ := req["command"].(string)
		h.seq++
		if _, err := h.execute(strings.ToUpper(command), req); err != nil {
			logger.Warn("Skipping request during replay", zap.String("command", command), zap.Error(err))
			failed++
			continue
		}
		applied++
	}
	if h.Metrics != nil {
		h.Metrics.SetListCount(h.Database.ListCount())
	}
	return applied, failed
}

// Checkpoint runs fn with writes paused, passing the current log position.
func (h *CommandHandler) Checkpoint(fn func(seq uint64) error) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return fn(h.seq)
}

// HoldReplicated makes ApplyReplicated queue writes until ApplySnapshot
// runs. A follower calls it before it starts accepting replication.
func (h *CommandHandler) HoldReplicated() {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.holding = true
}

// ApplySnapshot replays a leader's log that ends at position seq, then
// applies the queued replicated writes that came after it.
func (h *CommandHandler) ApplySnapshot(seq uint64, requests []map[string]interface{}) (applied, failed int) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	applied, failed = h.replayLocked(requests)
	h.seq = seq

	pending := h.pending
	h.pending = nil
	h.holding = false
	for _, w := range pending {
		if err := h.applyReplicatedLocked(w.seq, w.request); err != nil {
			utils.GetLogger().Warn("Queued replicated write failed", zap.Uint64("seq", w.seq), zap.Error(err))
		}
	}
	return applied, failed
}

// ApplyReplicated applies a write the leader logged at position seq. Writes
// at or before the current position were already applied and are dropped;
// a zero seq is always applied.
func (h *CommandHandler) ApplyReplicated(seq uint64, request map[string]interface{}) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.holding {
		h.pending = append(h.pending, pendingWrite{seq: seq, request: request})
		return nil
	}
	return h.applyReplicatedLocked(seq, request)
}

func (h *CommandHandler) applyReplicatedLocked(seq uint64, request map[string]interface{}) error {
	command, _ := request["command"].(string)
	command = strings.ToUpper(command)
	if !writeCommands[command] {
		return fmt.Errorf("%s is not a write command", command)
	}

	if seq != 0 {
		if seq <= h.seq {
			utils.GetLogger().Debug("Dropping replicated write already applied", zap.Uint64("seq", seq), zap.Uint64("at", h.seq))
			return nil
		}
		h.seq = seq - 1
	}
	start := time.Now()
	_, err := h.writeLocked(command, request)
	h.observe(command, err, time.Since(start))
	return err
}

func (h *CommandHandler) execute(command string, request map[string]interface{}) (map[string]interface{}, error) {
	db := h.Database

	switch command {
	case "":
		return nil, errors.New("invalid or missing 'command' field")

	case "PING":
		return okResponse("message", "PONG"), nil

	case "ECHO":
		message, ok := request["message"].(string)
		if !ok {
			return nil, errors.New("ECHO requires a 'message' field")
		}
		return okMessage(message), nil

	case "SET":
		key, keyOk := request["key"].(string)
		value, valueOk := request["value"].(string)
		if !keyOk || !valueOk {
			return nil, errors.New("SET requires 'key', 'value' fields")
		}
		var ttlMs int64
		if exp, ok := request["exp"]; ok {
			n, err := utils.ToInt64(exp)
			if err != nil {
				return nil, fmt.Errorf("invalid type for TTL: %w", err)
			}
			ttlMs = n
		}
		if err := db.Set(key, value, ttlMs); err != nil {
			return nil, err
		}
		return okResponse(), nil

	case "GET":
		key, ok := request["key"].(string)
		if !ok {
			return nil, errors.New("GET requires a 'key' field")
		}
		value, err := db.Get(key)
		if err != nil {
			return nil, err
		}
		return okValue(value), nil

	case "DEL":
		key, ok := request["key"].(string)
		if !ok {
			return nil, errors.New("DEL requires a 'key' field")
		}
		var deleted int64
		if db.Del(key) {
			deleted = 1
		}
		return okValue(deleted), nil

	case "INCR":
		key, ok := request["key"].(string)
		if !ok {
			return nil, errors.New("INCR requires a 'key' field")
		}
		raw, ok := request["offset"]
		if !ok {
			return nil, errors.New("INCR requires an 'offset' field (integer)")
		}
		offset, err := utils.ToInt64(raw)
		if err != nil {
			return nil, err
		}
		value, err := db.Incr(key, offset)
		if err != nil {
			return nil, err
		}
		return okValue(value), nil

	case "PUSH", "LPUSH", "RPUSH":
		key, ok := request["key"].(string)
		if !ok {
			return nil, fmt.Errorf("%s requires 'key', 'value' fields", command)
		}
		values, err := pushValues(request)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", command, err)
		}
		var length int
		if command == "LPUSH" {
			length, err = db.LPush(key, values...)
		} else {
			length, err = db.RPush(key, values...)
		}
		if err != nil {
			return nil, err
		}
		h.Metrics.ObserveListLength(length)
		return okValue(int64(length)), nil

	case "LPOP", "RPOP":
		key, ok := request["key"].(string)
		if !ok {
			return nil, fmt.Errorf("%s requires a 'key' field", command)
		}
		var value string
		var err error
		if command == "LPOP" {
			value, err = db.LPop(key)
		} else {
			value, err = db.RPop(key)
		}
		if err != nil {
			return nil, err
		}
		h.observeLength(key)
		return okValue(value), nil

	case "LINDEX":
		key, index, err := keyAndIndex(command, request)
		if err != nil {
			return nil, err
		}
		value, err := db.LIndex(key, index)
		if err != nil {
			return nil, err
		}
		return okValue(value), nil

	case "LINSERT":
		key, index, err := keyAndIndex(command, request)
		if err != nil {
			return nil, err
		}
		value, ok := request["value"].(string)
		if !ok {
			return nil, errors.New("LINSERT requires a 'value' field")
		}
		length, err := db.LInsert(key, index, value)
		if err != nil {
			return nil, err
		}
		h.Metrics.ObserveListLength(length)
		return okValue(int64(length)), nil

	case "LSET":
		key, index, err := keyAndIndex(command, request)
		if err != nil {
			return nil, err
		}
		value, ok := request["value"].(string)
		if !ok {
			return nil, errors.New("LSET requires a 'value' field")
		}
		if err := db.LSet(key, index, value); err != nil {
			return nil, err
		}
		return okResponse(), nil

	case "LREM":
		key, index, err := keyAndIndex(command, request)
		if err != nil {
			return nil, err
		}
		value, err := db.LRemAt(key, index)
		if err != nil {
			return nil, err
		}
		h.observeLength(key)
		return okValue(value), nil

	case "LLEN":
		key, ok := request["key"].(string)
		if !ok {
			return nil, errors.New("LLEN requires a 'key' field")
		}
		length, err := db.LLen(key)
		if err != nil {
			return nil, err
		}
		return okValue(int64(length)), nil

	case "LRANGE":
		key, ok := request["key"].(string)
		if !ok {
			return nil, errors.New("LRANGE requires a 'key' field")
		}
		start, err := optionalInt(request, "index", 0)
		if err != nil {
			return nil, err
		}
		stop, err := optionalInt(request, "stop", -1)
		if err != nil {
			return nil, err
		}
		values, err := db.LRange(key, start, stop)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "OK", "values": values}, nil

	case "FLUSH":
		db.Flush()
		return okResponse(), nil

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func (h *CommandHandler) observeLength(key string) {
	if h.Metrics == nil {
		return
	}
	length, err := h.Database.LLen(key)
	if err == nil {
		h.Metrics.ObserveListLength(length)
	}
}

// pushValues accepts either a single 'value' or a 'values' list.
func pushValues(request map[string]interface{}) ([]string, error) {
	if raw, ok := request["values"]; ok {
		values, err := utils.ToStrings(raw)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, ErrEmptyValue
		}
		return values, nil
	}
	value, ok := request["value"].(string)
	if !ok {
		return nil, errors.New("requires a 'value' or 'values' field")
	}
	return []string{value}, nil
}

func keyAndIndex(command string, request map[string]interface{}) (string, int, error) {
	key, ok := request["key"].(string)
	if !ok {
		return "", 0, fmt.Errorf("%s requires a 'key' field", command)
	}
	raw, ok := request["index"]
	if !ok {
		return "", 0, fmt.Errorf("%s requires an 'index' field (integer)", command)
	}
	index, err := utils.ToInt64(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", command, err)
	}
	return key, int(index), nil
}

func optionalInt(request map[string]interface{}, field string, def int) (int, error) {
	raw, ok := request[field]
	if !ok {
		return def, nil
	}
	n, err := utils.ToInt64(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return int(n), nil
}

func okResponse(kv ...interface{}) map[string]interface{} {
	response := map[string]interface{}{"status": "OK"}
	for i := 0; i+1 < len(kv); i += 2 {
		response[kv[i].(string)] = kv[i+1]
	}
	return response
}

func okMessage(message string) map[string]interface{} {
	return okResponse("message", message)
}

func okValue(value interface{}) map[string]interface{} {
	return okResponse("value", value)
}
