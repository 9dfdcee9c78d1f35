// Package kv describes the single-keyspace store the poker repository is
// built on: items addressed by a partition/sort key pair, conditional
// single-item writes, prefix range reads and all-or-nothing transactions.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxTransactItems is the largest number of operations one Transact call
// accepts. It matches the DynamoDB TransactWriteItems limit so every backend
// behaves the same.
const MaxTransactItems = 100

var (
	ErrConditionFailed = errors.New("kv: condition failed")
	ErrTransient       = errors.New("kv: transient store failure")
	ErrTooManyItems    = errors.New("kv: too many items in transaction")
)

type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// Item is one stored record. A zero ExpiresAt means the item never expires.
type Item struct {
	Key
	Attrs     map[string]string
	ExpiresAt int64
}

// Expired reports whether the item is past its expiry at now. Backends treat
// expired items as absent even before they are physically removed.
func (i Item) Expired(now time.Time) bool {
	return i.ExpiresAt > 0 && i.ExpiresAt <= now.Unix()
}

type ConditionKind int

const (
	ConditionNone ConditionKind = iota
	ConditionNotExists
	ConditionExists
	ConditionAttrEquals
)

type Condition struct {
	Kind  ConditionKind
	Attr  string
	Value string
}

func NotExists() *Condition { return &Condition{Kind: ConditionNotExists} }

func Exists() *Condition { return &Condition{Kind: ConditionExists} }

func AttrEquals(attr, value string) *Condition {
	return &Condition{Kind: ConditionAttrEquals, Attr: attr, Value: value}
}

// Holds evaluates the condition against the current item; current is nil when
// the item is absent or expired.
func (c *Condition) Holds(current *Item) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case ConditionNotExists:
		return current == nil
	case ConditionExists:
		return current != nil
	case ConditionAttrEquals:
		return current != nil && current.Attrs[c.Attr] == c.Value
	default:
		return true
	}
}

type OpKind int

const (
	OpPut OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one write inside a transaction. Put replaces the whole item, Update
// sets the attributes in Set on the existing item (creating it if the
// condition allows), Delete removes the item.
type Op struct {
	Kind      OpKind
	Key       Key
	Item      Item
	Set       map[string]string
	Condition *Condition
}

func PutOp(item Item, cond *Condition) Op {
	return Op{Kind: OpPut, Key: item.Key, Item: item, Condition: cond}
}

func UpdateOp(key Key, set map[string]string, cond *Condition) Op {
	return Op{Kind: OpUpdate, Key: key, Set: set, Condition: cond}
}

func DeleteOp(key Key, cond *Condition) Op {
	return Op{Kind: OpDelete, Key: key, Condition: cond}
}

// ConditionFailedError reports which operation's condition did not hold.
// Index is the position in the Transact slice, 0 for single-item writes.
type ConditionFailedError struct {
	Index int
	Key   Key
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("kv: condition failed at op %d (%s)", e.Index, e.Key)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

type Client interface {
	// Put writes item when cond holds; a nil cond writes unconditionally.
	Put(ctx context.Context, item Item, cond *Condition) error
	// Get returns nil, nil when the item is absent or expired.
	Get(ctx context.Context, key Key) (*Item, error)
	// Query returns the live items of partition pk whose sort key starts with
	// skPrefix, ordered by sort key. An empty prefix returns the partition.
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)
	// Transact applies every op or none of them.
	Transact(ctx context.Context, ops []Op) error
}

// Purger is implemented by backends without native expiry.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ValidateTransact performs the checks every backend applies before talking
// to storage.
func ValidateTransact(ops []Op) error {
	if len(ops) == 0 {
		return errors.New("kv: empty transaction")
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(ops), MaxTransactItems)
	}
	seen := make(map[Key]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Key]; ok {
			return fmt.Errorf("kv: key %s appears twice in one transaction", op.Key)
		}
		seen[op.Key] = struct{}{}
	}
	return nil
}
