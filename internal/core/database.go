package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/vskvj3/geomys-list/internal/datastructures"
)

var (
	ErrEmptyKey    = errors.New("key cannot be empty")
	ErrEmptyValue  = errors.New("value cannot be empty")
	ErrKeyNotFound = errors.New("key not found")
	ErrWrongType   = errors.New("operation against a key holding the wrong kind of value")
	ErrNotInteger  = errors.New("value is not an integer")
)

type Database struct {
	mu     sync.Mutex
	store  map[string]string
	lists  map[string]*datastructures.List[string]
	expiry map[string]int64
}

// Create a new database instance
func NewDatabase() *Database {
	return &Database{
		store:  make(map[string]string),
		lists:  make(map[string]*datastructures.List[string]),
		expiry: make(map[string]int64),
	}
}

// Set stores a key-value pair in the database
func (db *Database) Set(key, value string, ttlMs int64) error {
	// Validate inputs
	if key == "" {
		return ErrEmptyKey
	}
	if value == "" {
		return ErrEmptyValue
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.expireLocked(key)
	if _, ok := db.lists[key]; ok {
		return ErrWrongType
	}
	db.store[key] = value

	if ttlMs > 0 {
		db.expiry[key] = time.Now().UnixMilli() + ttlMs
	} else {
		delete(db.expiry, key)
	}

	return nil
}

// Get retrieves the value associated with the given key
func (db *Database) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.expireLocked(key)
	if _, ok := db.lists[key]; ok {
		return "", ErrWrongType
	}
	value, exists := db.store[key]
	if !exists {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Incr adds offset to the integer stored at key. A missing key counts as 0.
func (db *Database) Incr(key string, offset int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.expireLocked(key)
	if _, ok := db.lists[key]; ok {
		return 0, ErrWrongType
	}

	var current int64
	if value, exists := db.store[key]; exists {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
	}
	current += offset
	db.store[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// Del removes key whatever kind of value it holds. It reports whether the
// key existed.
func (db *Database) Del(key string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.expireLocked(key)
	_, isString := db.store[key]
	_, isList := db.lists[key]
	delete(db.store, key)
	delete(db.lists, key)
	delete(db.expiry, key)
	return isString || isList
}

// Flush drops every key.
func (db *Database) Flush() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, l := range db.lists {
		l.Clear()
	}
	db.store = make(map[string]string)
	db.lists = make(map[string]*datastructures.List[string])
	db.expiry = make(map[string]int64)
}

// LPush prepends values to the list at key, creating it if needed. Values
// are pushed one at a time, so the last one ends up at the head.
func (db *Database) LPush(key string, values ...string) (int, error) {
	return db.push(key, values, (*datastructures.List[string]).AddFirst)
}

// RPush appends values to the list at key, creating it if needed.
func (db *Database) RPush(key string, values ...string) (int, error) {
	return db.push(key, values, (*datastructures.List[string]).AddLast)
}

func (db *Database) push(key string, values []string, add func(*datastructures.List[string], string)) (int, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	if len(values) == 0 {
		return 0, ErrEmptyValue
	}
	for _, v := range values {
		if v == "" {
			return 0, ErrEmptyValue
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, true)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		add(l, v)
	}
	return l.Size(), nil
}

// LPop removes and returns the head of the list at key.
func (db *Database) LPop(key string) (string, error) {
	return db.pop(key, (*datastructures.List[string]).RemoveFirst)
}

// RPop removes and returns the tail of the list at key.
func (db *Database) RPop(key string) (string, error) {
	return db.pop(key, (*datastructures.List[string]).RemoveLast)
}

func (db *Database) pop(key string, remove func(*datastructures.List[string]) (string, error)) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if err != nil {
		return "", err
	}
	value, err := remove(l)
	if err != nil {
		return "", err
	}
	db.dropIfEmptyLocked(key, l)
	return value, nil
}

// LIndex returns the element at index; negative indexes count from the tail.
func (db *Database) LIndex(key string, index int) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if err != nil {
		return "", err
	}
	return l.Get(normalizeIndex(index, l.Size()))
}

// LInsert inserts value so it ends up at position index, which may equal
// the list length. Inserting at 0 into a missing key creates the list.
func (db *Database) LInsert(key string, index int, value string) (int, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	if value == "" {
		return 0, ErrEmptyValue
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, index == 0)
	if err != nil {
		return 0, err
	}
	if err := l.Add(index, value); err != nil {
		db.dropIfEmptyLocked(key, l)
		return 0, err
	}
	return l.Size(), nil
}

// LSet replaces the element at index; negative indexes count from the tail.
func (db *Database) LSet(key string, index int, value string) error {
	if value == "" {
		return ErrEmptyValue
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if err != nil {
		return err
	}
	_, err = l.Set(normalizeIndex(index, l.Size()), value)
	return err
}

// LRemAt removes and returns the element at index; negative indexes count
// from the tail.
func (db *Database) LRemAt(key string, index int) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if err != nil {
		return "", err
	}
	value, err := l.Remove(normalizeIndex(index, l.Size()))
	if err != nil {
		return "", err
	}
	db.dropIfEmptyLocked(key, l)
	return value, nil
}

// LLen returns the length of the list at key, 0 when it does not exist.
func (db *Database) LLen(key string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return l.Size(), nil
}

// ListCount returns how many keys hold a list.
func (db *Database) ListCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.lists)
}

// LRange returns the elements between start and stop inclusive.
func (db *Database) LRange(key string, start, stop int) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, err := db.listLocked(key, false)
	if errors.Is(err, ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return l.Range(start, stop), nil
}

// listLocked returns the list at key, creating an empty one when create is
// set. db.mu must be held.
func (db *Database) listLocked(key string, create bool) (*datastructures.List[string], error) {
	db.expireLocked(key)
	if _, ok := db.store[key]; ok {
		return nil, ErrWrongType
	}
	l, ok := db.lists[key]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		l = datastructures.NewList[string]()
		db.lists[key] = l
	}
	return l, nil
}

func (db *Database) dropIfEmptyLocked(key string, l *datastructures.List[string]) {
	if l.IsEmpty() {
		delete(db.lists, key)
		delete(db.expiry, key)
	}
}

// expireLocked drops key if its ttl has passed. db.mu must be held.
func (db *Database) expireLocked(key string) {
	if exp, ok := db.expiry[key]; ok && time.Now().UnixMilli() > exp {
		delete(db.store, key)
		delete(db.lists, key)
		delete(db.expiry, key)
	}
}

func normalizeIndex(index, size int) int {
	if index < 0 {
		return index + size
	}
	return index
}

// StartCleanup sweeps expired keys every interval until ctx is done.
func (db *Database) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			db.mu.Lock()
			now := time.Now().UnixMilli()
			for key, expiry := range db.expiry {
				if now > expiry {
					delete(db.store, key)
					delete(db.lists, key)
					delete(db.expiry, key)
				}
			}
			db.mu.Unlock()
		}
	}()
}
