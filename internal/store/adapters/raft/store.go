// Package raft implementa repository.Store replicando un kv por Raft
// (hashicorp/raft, log en BoltDB). Permite correr varias instancias sin un
// backend externo: las escrituras y el CAS se serializan en el líder; las
// lecturas son locales.
package raft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	hraft "github.com/hashicorp/raft"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

// Store implementa repository.Store sobre un Node.
type Store struct {
	node *Node
	fsm  *FSM
}

var _ repository.Store = (*Store)(nil)

// Open crea FSM + Node y retorna el Store. El caller decide si esperar líder.
func Open(opts NodeOptions) (*Store, error) {
	fsm := NewFSM()
	node, err := NewNode(opts, fsm)
	if err != nil {
		return nil, err
	}
	return &Store{node: node, fsm: fsm}, nil
}

// Node expone el nodo (para WaitForLeader / health).
func (s *Store) Node() *Node { return s.node }

func (s *Store) apply(ctx context.Context, c command) (applyResult, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return applyResult{}, err
	}
	resp, err := s.node.Apply(ctx, buf)
	if err != nil {
		if errors.Is(err, hraft.ErrNotLeader) || errors.Is(err, hraft.ErrLeadershipLost) {
			return applyResult{}, fmt.Errorf("%w: %w", repository.ErrUnavailable, repository.ErrNotLeader)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return applyResult{}, err
		}
		return applyResult{}, fmt.Errorf("%w: raft: %v", repository.ErrUnavailable, err)
	}
	res, ok := resp.(applyResult)
	if !ok {
		return applyResult{}, fmt.Errorf("raft: unexpected apply response %T", resp)
	}
	return res, res.Err
}

func (s *Store) Get(_ context.Context, key string) (*repository.Entry, error) {
	e, ok := s.fsm.get(key)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, e *repository.Entry) error {
	if e == nil || e.Key == "" {
		return repository.ErrInvalidInput
	}
	res, err := s.apply(ctx, command{Op: opPut, Entry: e})
	if err != nil {
		return err
	}
	e.Version = res.Version
	return nil
}

func (s *Store) CASPut(ctx context.Context, expected int64, e *repository.Entry) (bool, error) {
	if e == nil || e.Key == "" {
		return false, repository.ErrInvalidInput
	}
	res, err := s.apply(ctx, command{Op: opCAS, Expected: expected, Entry: e})
	if err != nil {
		return false, err
	}
	if res.OK {
		e.Version = res.Version
	}
	return res.OK, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.apply(ctx, command{Op: opDelete, Key: key})
	return err
}

func (s *Store) Find(_ context.Context, base string, f repository.Filter) ([]*repository.Entry, error) {
	return s.fsm.find(base, f), nil
}

func (s *Store) Ping(context.Context) error {
	if s.node.LeaderID() == "" {
		return fmt.Errorf("%w: raft: no leader", repository.ErrUnavailable)
	}
	return nil
}

func (s *Store) Close() error { return s.node.Close() }
