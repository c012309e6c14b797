package raft

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

type opKind string

const (
	opPut    opKind = "put"
	opCAS    opKind = "cas"
	opDelete opKind = "delete"
)

// command es la mutación replicada por el log de Raft.
type command struct {
	Op       opKind            `json:"op"`
	Expected int64             `json:"expected,omitempty"`
	Key      string            `json:"key,omitempty"`
	Entry    *repository.Entry `json:"entry,omitempty"`
}

// applyResult es lo que Apply retorna a través del ApplyFuture.
type applyResult struct {
	OK      bool
	Version int64
	Err     error
}

// FSM es el kv replicado. Las lecturas son locales al nodo; las escrituras
// solo entran por Apply, en el mismo orden en todos los nodos.
type FSM struct {
	mu      sync.RWMutex
	entries map[string]*repository.Entry
}

func NewFSM() *FSM { return &FSM{entries: make(map[string]*repository.Entry)} }

var _ raft.FSM = (*FSM)(nil)

// Apply decodifica la mutación y la aplica sobre el mapa.
func (f *FSM) Apply(l *raft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return applyResult{}
	}
	var c command
	if err := json.Unmarshal(l.Data, &c); err != nil {
		return applyResult{Err: fmt.Errorf("decode command: %w", err)}
	}
	return f.apply(c)
}

func (f *FSM) apply(c command) applyResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c.Op {
	case opPut, opCAS:
		if c.Entry == nil || c.Entry.Key == "" {
			return applyResult{Err: repository.ErrInvalidInput}
		}
		var cur int64
		if e, ok := f.entries[c.Entry.Key]; ok {
			cur = e.Version
		}
		if c.Op == opCAS && cur != c.Expected {
			return applyResult{OK: false, Version: cur}
		}
		e := c.Entry.Clone()
		e.Version = cur + 1
		f.entries[e.Key] = e
		return applyResult{OK: true, Version: e.Version}
	case opDelete:
		delete(f.entries, c.Key)
		return applyResult{OK: true}
	default:
		// tipo desconocido: se ignora para no trabar el log
		return applyResult{}
	}
}

func (f *FSM) get(key string) (*repository.Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[key]
	return e.Clone(), ok
}

func (f *FSM) find(base string, flt repository.Filter) []*repository.Entry {
	prefix := base + "/"
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*repository.Entry
	for k, e := range f.entries {
		if strings.HasPrefix(k, prefix) && flt.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Snapshot copia el estado actual; Persist lo serializa como JSON gzip.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := make([]*repository.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		snap = append(snap, e.Clone())
	}
	return &kvSnap{entries: snap}, nil
}

// Restore reemplaza el estado completo con el snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return err
	}
	defer gz.Close()

	var entries []*repository.Entry
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	m := make(map[string]*repository.Entry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	f.mu.Lock()
	f.entries = m
	f.mu.Unlock()
	return nil
}

type kvSnap struct{ entries []*repository.Entry }

func (s *kvSnap) Persist(sink raft.SnapshotSink) error {
	gw := gzip.NewWriter(sink)
	if err := json.NewEncoder(gw).Encode(s.entries); err != nil {
		_ = gw.Close()
		_ = sink.Cancel()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *kvSnap) Release() {}
