package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
)

// Conflict is handed to the Policy when the remote refuses a mutation.
// Server is the remote's current row when the remote reported one.
type Conflict struct {
	ID       string
	Mutation store.PendingMutation
	Server   store.Record
	Err      error
}

// IsConflict distinguishes version conflicts from other rejections.
func (c *Conflict) IsConflict() bool {
	return errors.Is(c.Err, remote.ErrConflict)
}

func (c *Conflict) Type() string {
	if c.IsConflict() {
		return "conflict"
	}
	return "error"
}

type ConflictManager struct {
	store store.Store
}

func NewConflictManager(store store.Store) *ConflictManager {
	return &ConflictManager{
		store: store,
	}
}

// DetectConflict turns a remote refusal into a Conflict. It reports false
// when the server already holds exactly the local values, in which case the
// caller can acknowledge the mutation against the returned server row.
func (cm *ConflictManager) DetectConflict(m store.PendingMutation, err error) (bool, *Conflict) {
	c := &Conflict{
		ID:       uuid.New().String(),
		Mutation: m,
		Err:      err,
	}

	var ce *remote.ConflictError
	if errors.As(err, &ce) {
		c.Server = ce.Server
		if ce.Server != nil && calculateHash(m.Record, nil) == calculateHash(ce.Server, m.Record) {
			return false, c
		}
	}
	return true, c
}

// RecordConflict stores c. A mutation refused again while its conflict is
// still open keeps that row, and c takes over its ID.
func (cm *ConflictManager) RecordConflict(ctx context.Context, c *Conflict) error {
	open, err := cm.store.OpenConflict(ctx, c.Mutation.ID)
	if err == nil {
		c.ID = open.ID
		return nil
	}
	if !errors.Is(err, store.ErrConflictNotFound) {
		return err
	}

	localBytes, _ := json.Marshal(c.Mutation.Record)

	conflict := &store.Conflict{
		ID:              c.ID,
		TableName:       c.Mutation.Table,
		PrimaryKeyValue: c.Mutation.RecordID,
		MutationID:      c.Mutation.ID,
		Operation:       c.Mutation.Operation,
		LocalData:       json.RawMessage(localBytes),
		ConflictType:    c.Type(),
		DetectedAt:      time.Now(),
	}
	if c.Server != nil {
		cloudBytes, _ := json.Marshal(c.Server)
		conflict.CloudData = json.RawMessage(cloudBytes)
	}
	if c.Err != nil {
		conflict.ErrorMessage = c.Err.Error()
	}

	return cm.store.CreateConflict(ctx, conflict)
}

func (cm *ConflictManager) ResolveConflict(ctx context.Context, c *Conflict, r Resolution) error {
	return cm.store.ResolveConflict(ctx, c.ID, r.String())
}

// Settle closes the open conflict of a mutation that went through on a later
// attempt. A mutation without one is left alone.
func (cm *ConflictManager) Settle(ctx context.Context, m store.PendingMutation, strategy string) {
	open, err := cm.store.OpenConflict(ctx, m.ID)
	if err != nil {
		return
	}
	if err := cm.store.ResolveConflict(ctx, open.ID, strategy); err != nil {
		logger.Log.Warn("Failed to settle conflict", zap.String("conflict", open.ID), zap.Error(err))
	}
}

// calculateHash hashes the record's values, ignoring the version column. When
// keys is set only the columns present in keys are hashed, so a server row
// with extra columns still compares equal to the local snapshot.
func calculateHash(data, keys map[string]any) string {
	subset := make(map[string]any, len(data))
	for k, v := range data {
		if k == store.VersionColumn {
			continue
		}
		if keys != nil {
			if _, ok := keys[k]; !ok {
				continue
			}
		}
		subset[k] = v
	}
	// encoding/json sorts map keys, which keeps the hash stable.
	bytes, _ := json.Marshal(subset)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}
