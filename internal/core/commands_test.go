package core

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vskvj3/geomys-list/internal/metrics"
	"github.com/vskvj3/geomys-list/internal/utils"
)

func TestMain(m *testing.M) {
	utils.NewNopLogger()
	os.Exit(m.Run())
}

type memoryLog struct {
	requests []map[string]interface{}
	err      error
}

func (l *memoryLog) LogRequest(req map[string]interface{}) error {
	if l.err != nil {
		return l.err
	}
	l.requests = append(l.requests, req)
	return nil
}

func TestCoreCommands(t *testing.T) {
	h := NewCommandHandler(NewDatabase())

	t.Run("SET command", func(t *testing.T) {
		resp, err := h.HandleCommand(map[string]interface{}{"command": "set", "key": "key1", "value": "value1"})
		require.NoError(t, err)
		assert.Equal(t, "OK", resp["status"])
	})

	t.Run("GET command existing key", func(t *testing.T) {
		resp, err := h.HandleCommand(map[string]interface{}{"command": "GET", "key": "key1"})
		require.NoError(t, err)
		assert.Equal(t, "value1", resp["value"])
	})

	t.Run("GET command non-existing key", func(t *testing.T) {
		_, err := h.HandleCommand(map[string]interface{}{"command": "GET", "key": "nonexistent"})
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("ECHO", func(t *testing.T) {
		resp, err := h.HandleCommand(map[string]interface{}{"command": "ECHO", "message": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", resp["message"])
	})

	t.Run("INCR accepts msgpack integer widths", func(t *testing.T) {
		for _, offset := range []interface{}{int8(1), uint16(1), int64(1), "1"} {
			_, err := h.HandleCommand(map[string]interface{}{"command": "INCR", "key": "n", "offset": offset})
			require.NoError(t, err)
		}
		resp, err := h.HandleCommand(map[string]interface{}{"command": "GET", "key": "n"})
		require.NoError(t, err)
		assert.Equal(t, "4", resp["value"])
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := h.HandleCommand(map[string]interface{}{"key": "k"})
		assert.EqualError(t, err, "invalid or missing 'command' field")
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := h.HandleCommand(map[string]interface{}{"command": "nope"})
		assert.EqualError(t, err, `unknown command "NOPE"`)
	})
}

func TestListScenario(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	run := func(req map[string]interface{}) map[string]interface{} {
		t.Helper()
		resp, err := h.HandleCommand(req)
		require.NoError(t, err, "%v", req)
		return resp
	}

	run(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "1"})
	run(map[string]interface{}{"command": "PUSH", "key": "q", "value": "2"})
	resp := run(map[string]interface{}{"command": "RPUSH", "key": "q", "values": []interface{}{"3"}})
	assert.Equal(t, int64(3), resp["value"])

	resp = run(map[string]interface{}{"command": "LINSERT", "key": "q", "index": int8(1), "value": "9"})
	assert.Equal(t, int64(4), resp["value"])
	resp = run(map[string]interface{}{"command": "LRANGE", "key": "q"})
	assert.Equal(t, []string{"1", "9", "2", "3"}, resp["values"])

	resp = run(map[string]interface{}{"command": "LREM", "key": "q", "index": int8(0)})
	assert.Equal(t, "1", resp["value"])
	resp = run(map[string]interface{}{"command": "RPOP", "key": "q"})
	assert.Equal(t, "3", resp["value"])

	resp = run(map[string]interface{}{"command": "LINDEX", "key": "q", "index": int8(-1)})
	assert.Equal(t, "2", resp["value"])
	run(map[string]interface{}{"command": "LSET", "key": "q", "index": int8(0), "value": "7"})
	resp = run(map[string]interface{}{"command": "LRANGE", "key": "q", "index": 0, "stop": -1})
	assert.Equal(t, []string{"7", "2"}, resp["values"])
	resp = run(map[string]interface{}{"command": "LLEN", "key": "q"})
	assert.Equal(t, int64(2), resp["value"])

	_, err := h.HandleCommand(map[string]interface{}{"command": "LINDEX", "key": "q"})
	assert.Error(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "LPUSH", "key": "q"})
	assert.Error(t, err)
}

func TestWritesAreLogged(t *testing.T) {
	log := &memoryLog{}
	h := NewCommandHandler(NewDatabase())
	h.Persistence = log

	_, err := h.HandleCommand(map[string]interface{}{"command": "LPUSH", "key": "q", "value": "a"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "LLEN", "key": "q"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "RPOP", "key": "missing"})
	require.Error(t, err)

	// reads stay out of the log; writes are logged ahead of applying them
	require.Len(t, log.requests, 2)
	assert.Equal(t, "LPUSH", log.requests[0]["command"])
	assert.Equal(t, "RPOP", log.requests[1]["command"])
	assert.Equal(t, uint64(2), h.seq)
}

func TestFailedLogLeavesStateUnchanged(t *testing.T) {
	log := &memoryLog{}
	h := NewCommandHandler(NewDatabase())
	h.Persistence = log

	_, err := h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "a"})
	require.NoError(t, err)

	log.err = errors.New("disk full")
	for _, req := range []map[string]interface{}{
		{"command": "RPUSH", "key": "q", "value": "b"},
		{"command": "LPOP", "key": "q"},
		{"command": "SET", "key": "s", "value": "v"},
		{"command": "FLUSH"},
	} {
		_, err := h.HandleCommand(req)
		assert.ErrorContains(t, err, "disk full")
	}

	values, err := h.Database.LRange("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, values)
	_, err = h.Database.Get("s")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, uint64(1), h.seq)
}

// slowLog stalls while logging the first write so a second one can race it.
type slowLog struct {
	memoryLog
	mu      sync.Mutex
	entered chan struct{}
}

func (l *slowLog) LogRequest(req map[string]interface{}) error {
	if req["value"] == "a" {
		close(l.entered)
		time.Sleep(50 * time.Millisecond)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memoryLog.LogRequest(req)
}

func TestConcurrentWritesKeepLogOrder(t *testing.T) {
	log := &slowLog{entered: make(chan struct{})}
	h := NewCommandHandler(NewDatabase())
	h.Persistence = log

	var hooked []string
	h.OnWrite = func(seq uint64, req map[string]interface{}) error {
		hooked = append(hooked, req["value"].(string))
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "a"})
		assert.NoError(t, err)
	}()
	<-log.entered
	go func() {
		defer wg.Done()
		_, err := h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "b"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	live, err := h.Database.LRange("q", 0, -1)
	require.NoError(t, err)

	replayed := NewCommandHandler(NewDatabase())
	replayed.Replay(log.requests)
	values, err := replayed.Database.LRange("q", 0, -1)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, live)
	assert.Equal(t, live, values)
	assert.Equal(t, live, hooked)
}

func TestWriteHookSeesLogPositions(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	h.Replay([]map[string]interface{}{
		{"command": "RPUSH", "key": "q", "value": "a"},
		{"command": "LPOP", "key": "missing"},
	})

	var seqs []uint64
	h.OnWrite = func(seq uint64, _ map[string]interface{}) error {
		seqs = append(seqs, seq)
		return errors.New("follower down")
	}

	_, err := h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "b"})
	require.NoError(t, err, "replication failures do not fail the write")
	_, err = h.HandleCommand(map[string]interface{}{"command": "RPOP", "key": "missing"})
	require.Error(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "LLEN", "key": "q"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "c"})
	require.NoError(t, err)

	// failed writes take a position but are not passed on
	assert.Equal(t, []uint64{3, 5}, seqs)
}

func TestApplyReplicatedHeldUntilSnapshot(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	h.HoldReplicated()

	// seq 2 is also in the snapshot, seq 3 came after it
	require.NoError(t, h.ApplyReplicated(2, map[string]interface{}{"command": "RPUSH", "key": "q", "value": "b"}))
	require.NoError(t, h.ApplyReplicated(3, map[string]interface{}{"command": "RPUSH", "key": "q", "value": "c"}))
	n, err := h.Database.LLen("q")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	applied, failed := h.ApplySnapshot(2, []map[string]interface{}{
		{"command": "RPUSH", "key": "q", "value": "a"},
		{"command": "RPUSH", "key": "q", "value": "b"},
	})
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, failed)

	values, err := h.Database.LRange("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, values)

	// a redelivered write is dropped, a new one applies
	require.NoError(t, h.ApplyReplicated(3, map[string]interface{}{"command": "RPUSH", "key": "q", "value": "c"}))
	require.NoError(t, h.ApplyReplicated(4, map[string]interface{}{"command": "LPOP", "key": "q"}))
	values, err = h.Database.LRange("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, values)
	assert.Equal(t, uint64(4), h.seq)

	assert.Error(t, h.ApplyReplicated(5, map[string]interface{}{"command": "LLEN", "key": "q"}))
}

func TestApplyReplicatedUnnumbered(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	for i := 0; i < 2; i++ {
		require.NoError(t, h.ApplyReplicated(0, map[string]interface{}{"command": "RPUSH", "key": "q", "value": "x"}))
	}
	n, err := h.Database.LLen("q")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestZeroOffsetReplays(t *testing.T) {
	log := &memoryLog{}
	h := NewCommandHandler(NewDatabase())
	h.Persistence = log

	_, err := h.HandleCommand(map[string]interface{}{"command": "INCR", "key": "n", "offset": int64(0)})
	require.NoError(t, err)

	// the record as it comes back from disk or over the wire
	cmd, err := utils.ConvertRequestToCommand(log.requests[0])
	require.NoError(t, err)
	replayed := NewCommandHandler(NewDatabase())
	applied, failed := replayed.Replay([]map[string]interface{}{utils.ConvertCommandToRequest(cmd)})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, failed)

	v, err := replayed.Database.Get("n")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestReplay(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	log := &memoryLog{}
	h.Persistence = log

	applied, failed := h.Replay([]map[string]interface{}{
		{"command": "RPUSH", "key": "q", "values": []string{"a", "b"}},
		{"command": "LPOP", "key": "nope"},
		{"command": "LINSERT", "key": "q", "index": int64(2), "value": "c"},
	})
	assert.Equal(t, 2, applied)
	assert.Equal(t, 1, failed)
	assert.Empty(t, log.requests)
	assert.Equal(t, uint64(3), h.seq)

	values, err := h.Database.LRange("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, values)
}

func TestMetricsObserved(t *testing.T) {
	h := NewCommandHandler(NewDatabase())
	h.Metrics = metrics.NewCollector("test")

	_, err := h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "a"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "RPUSH", "key": "q", "value": "b"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "LPOP", "key": "q"})
	require.NoError(t, err)
	_, err = h.HandleCommand(map[string]interface{}{"command": "LINDEX", "key": "q", "index": 5})
	require.Error(t, err)
	for _, name := range []string{"NOPE", "NOPE2", "x"} {
		_, err = h.HandleCommand(map[string]interface{}{"command": name})
		require.Error(t, err)
	}

	rec := httptest.NewRecorder()
	h.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `test_commands_total{command="RPUSH",status="OK"} 2`)
	assert.Contains(t, body, `test_commands_total{command="LPOP",status="OK"} 1`)
	assert.Contains(t, body, `test_commands_total{command="LINDEX",status="ERROR"} 1`)
	assert.Contains(t, body, `test_commands_total{command="UNKNOWN",status="ERROR"} 3`)
	assert.NotContains(t, body, `command="NOPE"`)
	assert.Contains(t, body, "test_list_length_count 3")
	assert.Contains(t, body, "test_list_length_sum 4")
	assert.Contains(t, body, "test_lists 1")
	assert.NotContains(t, body, `key="q"`)
}

func TestIsWriteCommand(t *testing.T) {
	assert.True(t, IsWriteCommand("lpush"))
	assert.True(t, IsWriteCommand("LREM"))
	assert.False(t, IsWriteCommand("LRANGE"))
	assert.False(t, IsWriteCommand("GET"))
}
