package sync

import (
	"fmt"
	"strings"
)

// Resolution is a policy's decision for a rejected mutation.
type Resolution int

const (
	// CancelAndDiscard drops the local change. The local row reverts to the
	// server's copy when the remote sent one; a record the remote never
	// versioned is removed. Otherwise the next pull restores it.
	CancelAndDiscard Resolution = iota
	// Overwrite resends the change once, based on the server's current version.
	Overwrite
	// Retry keeps the change queued and halts the push until the next cycle.
	Retry
)

func (r Resolution) String() string {
	switch r {
	case CancelAndDiscard:
		return "discard"
	case Overwrite:
		return "overwrite"
	case Retry:
		return "retry"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// Policy decides what happens to a mutation the remote refused. Both hooks
// run synchronously inside the push.
type Policy interface {
	OnConflict(c *Conflict) Resolution
	OnError(c *Conflict) Resolution
}

// DiscardPolicy gives up on every rejected change. It is the naive default:
// field deployments lose offline edits under it and should supply their own policy.
type DiscardPolicy struct{}

func (DiscardPolicy) OnConflict(*Conflict) Resolution { return CancelAndDiscard }
func (DiscardPolicy) OnError(*Conflict) Resolution    { return CancelAndDiscard }

// OverwritePolicy lets local changes win conflicts. Other rejections are
// discarded, since resending them unchanged would fail the same way.
type OverwritePolicy struct{}

func (OverwritePolicy) OnConflict(*Conflict) Resolution { return Overwrite }
func (OverwritePolicy) OnError(*Conflict) Resolution    { return CancelAndDiscard }

// RetryPolicy keeps every rejected change queued. Its conflict stays open
// until the change goes through or an operator resolves it.
type RetryPolicy struct{}

func (RetryPolicy) OnConflict(*Conflict) Resolution { return Retry }
func (RetryPolicy) OnError(*Conflict) Resolution    { return Retry }

// PolicyFuncs adapts two functions to a Policy. A nil hook discards.
type PolicyFuncs struct {
	Conflict func(*Conflict) Resolution
	Error    func(*Conflict) Resolution
}

func (p PolicyFuncs) OnConflict(c *Conflict) Resolution {
	if p.Conflict == nil {
		return CancelAndDiscard
	}
	return p.Conflict(c)
}

func (p PolicyFuncs) OnError(c *Conflict) Resolution {
	if p.Error == nil {
		return CancelAndDiscard
	}
	return p.Error(c)
}

// PolicyByName maps the sync.conflict_policy setting to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "discard":
		return DiscardPolicy{}, nil
	case "overwrite":
		return OverwritePolicy{}, nil
	case "retry":
		return RetryPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown conflict policy %q", name)
}
