// Package extension defines the synchronous hook chain a table fires on
// every mutation.
//
// Hooks run in registration order while the table holds its exclusive
// lock. A hook doing expensive out-of-band work may release the provided
// TableLock and reacquire it before returning; the table verifies the
// lock is held again after every hook call.
package extension

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/replaybuf/schema"
)

// ErrAlreadyRegistered is returned when binding an extension that is
// already bound to a table.
var ErrAlreadyRegistered = errors.New("extension already registered to a table")

// TableLock is the scoped guard handed to hooks. It wraps the owning
// table's mutex together with its held state, so a hook can release the
// lock for expensive work and must reacquire it before returning.
type TableLock struct {
	mu   *sync.Mutex
	held bool
}

// NewTableLock wraps a held mutex. Intended for the owning table only.
func NewTableLock(mu *sync.Mutex) *TableLock {
	return &TableLock{mu: mu, held: true}
}

// Unlock releases the table lock. The hook must call Relock before
// returning.
func (l *TableLock) Unlock() {
	if !l.held {
		panic("extension: unlock of a released table lock")
	}
	l.held = false
	l.mu.Unlock()
}

// Relock reacquires the table lock.
func (l *TableLock) Relock() {
	if l.held {
		panic("extension: relock of a held table lock")
	}
	l.mu.Lock()
	l.held = true
}

// Held reports whether the lock is currently held.
func (l *TableLock) Held() bool { return l.held }

// TableExtension observes table mutations. All hooks have default no-op
// behavior via Base, so partial observers are legal.
type TableExtension interface {
	// Register binds the extension to a table. An extension serves
	// exactly one table at a time.
	Register(tableName string) error
	// Unregister releases the binding. Unregistering with a table other
	// than the bound one is a usage bug and panics.
	Unregister(tableName string)

	OnInsert(lk *TableLock, item *schema.PrioritizedItem)
	OnDelete(lk *TableLock, item *schema.PrioritizedItem)
	OnUpdate(lk *TableLock, item *schema.PrioritizedItem)
	OnSample(lk *TableLock, item *schema.PrioritizedItem)
	OnReset(lk *TableLock)
}

type registrationState uint8

const (
	stateUnregistered registrationState = iota
	stateRegistered
)

// Base provides no-op hooks and the single-owner registration contract.
// Concrete extensions embed Base and override the hooks they care about.
type Base struct {
	state      registrationState
	boundTable string
}

// Register implements TableExtension.
func (b *Base) Register(tableName string) error {
	if b.state == stateRegistered {
		return fmt.Errorf("%w: bound to %q, cannot serve %q",
			ErrAlreadyRegistered, b.boundTable, tableName)
	}
	b.state = stateRegistered
	b.boundTable = tableName
	return nil
}

// Unregister implements TableExtension.
func (b *Base) Unregister(tableName string) {
	if b.state != stateRegistered || b.boundTable != tableName {
		panic(fmt.Sprintf(
			"extension: table %q attempted to unregister an extension bound to %q",
			tableName, b.boundTable))
	}
	b.state = stateUnregistered
	b.boundTable = ""
}

// BoundTable returns the name of the table the extension is registered
// to, or "" when unbound.
func (b *Base) BoundTable() string {
	if b.state != stateRegistered {
		return ""
	}
	return b.boundTable
}

// OnInsert implements TableExtension.
func (b *Base) OnInsert(*TableLock, *schema.PrioritizedItem) {}

// OnDelete implements TableExtension.
func (b *Base) OnDelete(*TableLock, *schema.PrioritizedItem) {}

// OnUpdate implements TableExtension.
func (b *Base) OnUpdate(*TableLock, *schema.PrioritizedItem) {}

// OnSample implements TableExtension.
func (b *Base) OnSample(*TableLock, *schema.PrioritizedItem) {}

// OnReset implements TableExtension.
func (b *Base) OnReset(*TableLock) {}
