package lockmgr

import (
	"time"

	"github.com/google/uuid"
)

type localPrimitives struct {
	table *LockTable
	owner string
}

// NewLocalPrimitives creates lock primitives on an in-process lock table.
// Every call returns a new owner, so two values created on the same table
// exclude each other like two database sessions do.
func NewLocalPrimitives(table *LockTable) IPrimitives {
	return &localPrimitives{
		table: table,
		owner: uuid.NewString(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (p *localPrimitives) IsFree(name string) (bool, error) {
	return p.table.IsFree(name), nil
}

func (p *localPrimitives) TryAcquire(name string, bound time.Duration) (bool, error) {
	return p.table.TryAcquire(name, p.owner, bound), nil
}

func (p *localPrimitives) Release(name string) error {
	p.table.Release(name, p.owner)
	return nil
}
