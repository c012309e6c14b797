package raft

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// Node envuelve *raft.Raft con helpers de Apply/Leader/Close y un
// constructor que arma stores (BoltDB o memoria), snapshots y transporte.
type Node struct {
	r            *raft.Raft
	applyTimeout time.Duration
	id           raft.ServerID
	addr         raft.ServerAddress
	closeOnce    sync.Once
	stop         chan struct{}
}

type NodeOptions struct {
	NodeID   string            // identidad de este nodo
	RaftAddr string            // host:port del transporte Raft
	RaftDir  string            // directorio de datos (raft.db + snapshots)
	Peers    map[string]string // nodeID -> raftAddr; si >1, bootstrap estático en un nodo
	// BootstrapPreferred fuerza a este nodo a ser el bootstrapper inicial.
	BootstrapPreferred bool
	// DisableBootstrap deja al nodo en modo join-only.
	DisableBootstrap bool

	// InMemory usa stores y transporte en memoria (tests, dev de un nodo).
	InMemory bool

	// TLS opcional (mTLS) para el transporte.
	TLSEnable     bool
	TLSCertFile   string
	TLSKeyFile    string
	TLSCAFile     string
	TLSServerName string

	ApplyTimeout time.Duration
}

func NewNode(opts NodeOptions, fsm raft.FSM) (*Node, error) {
	if opts.NodeID == "" || fsm == nil {
		return nil, errors.New("raft: invalid NodeOptions")
	}
	log := logger.L().With(logger.Component("store.raft"), logger.String("node_id", opts.NodeID))

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)
	cfg.LogLevel = "WARN"

	var (
		logStore    raft.LogStore
		stableStore raft.StableStore
		snapStore   raft.SnapshotStore
		trans       raft.Transport
		boltPath    string
	)

	if opts.InMemory {
		mem := raft.NewInmemStore()
		logStore, stableStore = mem, mem
		snapStore = raft.NewInmemSnapshotStore()
		addr := opts.RaftAddr
		if addr == "" {
			addr = opts.NodeID
		}
		_, trans = raft.NewInmemTransport(raft.ServerAddress(addr))
		// Timeouts cortos: en memoria no hay red que esperar.
		cfg.HeartbeatTimeout = 50 * time.Millisecond
		cfg.ElectionTimeout = 50 * time.Millisecond
		cfg.LeaderLeaseTimeout = 50 * time.Millisecond
		cfg.CommitTimeout = 5 * time.Millisecond
	} else {
		if opts.RaftAddr == "" || opts.RaftDir == "" {
			return nil, errors.New("raft: RaftAddr and RaftDir are required")
		}
		if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir raft dir: %w", err)
		}
		// log + stable en la misma Bolt DB
		boltPath = filepath.Join(opts.RaftDir, "raft.db")
		bolt, err := raftboltdb.NewBoltStore(boltPath)
		if err != nil {
			return nil, fmt.Errorf("bolt store: %w", err)
		}
		logStore, stableStore = bolt, bolt

		fss, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, io.Discard)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		snapStore = fss

		if opts.TLSEnable {
			bundle, err := loadTLSBundle(opts.TLSCertFile, opts.TLSKeyFile, opts.TLSCAFile, opts.TLSServerName)
			if err != nil {
				return nil, fmt.Errorf("raft tls: %w", err)
			}
			ln, err := tls.Listen("tcp", opts.RaftAddr, bundle.server)
			if err != nil {
				return nil, fmt.Errorf("tls listen: %w", err)
			}
			trans = raft.NewNetworkTransport(&tlsStream{ln: ln, cfg: bundle.client}, 3, 10*time.Second, io.Discard)
		} else {
			plain, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, io.Discard)
			if err != nil {
				return nil, fmt.Errorf("tcp transport: %w", err)
			}
			trans = plain
		}
	}

	r, err := raft.NewRaft(cfg, fsm, logStore, stableStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	n := &Node{
		r:            r,
		applyTimeout: 5 * time.Second,
		id:           cfg.LocalID,
		addr:         trans.LocalAddr(),
		stop:         make(chan struct{}),
	}
	if opts.ApplyTimeout > 0 {
		n.applyTimeout = opts.ApplyTimeout
	}

	go n.watchLeadership()
	if boltPath != "" {
		go n.watchLogSize(boltPath)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("check state: %w", err)
	}
	if hasState || opts.DisableBootstrap {
		if !hasState {
			log.Info("join-only mode: skipping bootstrap")
		}
		return n, nil
	}

	if len(opts.Peers) <= 1 {
		conf := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: trans.LocalAddr()}}}
		if err := r.BootstrapCluster(conf).Error(); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		log.Info("bootstrapped single-node cluster", logger.String("addr", string(n.addr)))
		return n, nil
	}

	// Bootstrap estático en un único nodo determinístico (menor NodeID),
	// salvo que este nodo se declare preferido.
	smallest := opts.NodeID
	for k := range opts.Peers {
		if k < smallest {
			smallest = k
		}
	}
	if !opts.BootstrapPreferred && opts.NodeID != smallest {
		log.Info("waiting to join static cluster", logger.String("bootstrapper", smallest))
		return n, nil
	}
	servers := make([]raft.Server, 0, len(opts.Peers))
	for id, addr := range opts.Peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return nil, fmt.Errorf("bootstrap(static): %w", err)
	}
	log.Info("bootstrapped static cluster", logger.Count(len(servers)))
	return n, nil
}

func (n *Node) watchLeadership() {
	ch := n.r.LeaderCh()
	for {
		select {
		case <-n.stop:
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if v {
				metrics.RaftLeadershipChanges.Inc()
			}
		}
	}
}

func (n *Node) watchLogSize(path string) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-t.C:
			if st, err := os.Stat(path); err == nil {
				metrics.RaftLogSizeBytes.Set(float64(st.Size()))
			}
		}
	}
}

// Apply envía bytes al log y espera commit, respetando la cancelación de ctx.
func (n *Node) Apply(ctx context.Context, data []byte) (interface{}, error) {
	start := time.Now()
	fut := n.r.Apply(data, n.applyTimeout)

	done := make(chan struct{})
	var applyErr error
	go func() {
		applyErr = fut.Error()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
		if applyErr != nil {
			return nil, applyErr
		}
		return fut.Response(), nil
	}
}

// WaitForLeader bloquea hasta que el cluster tenga líder o ctx termine.
func (n *Node) WaitForLeader(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if n.LeaderID() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (n *Node) IsLeader() bool { return n.r.State() == raft.Leader }

func (n *Node) LeaderID() string {
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}

func (n *Node) NodeID() string { return string(n.id) }

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.stop)
		err = n.r.Shutdown().Error()
	})
	return err
}

// ─── TLS helpers ───

type tlsBundle struct {
	server *tls.Config
	client *tls.Config
}

func loadTLSBundle(certFile, keyFile, caFile, serverName string) (*tlsBundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("invalid CA file")
	}
	return &tlsBundle{
		server: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    pool,
			MinVersion:   tls.VersionTLS12,
		},
		client: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
			ServerName:   serverName,
		},
	}, nil
}

type tlsStream struct {
	ln  net.Listener
	cfg *tls.Config
}

func (t *tlsStream) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(d, "tcp", string(address), t.cfg)
}
func (t *tlsStream) Accept() (net.Conn, error) { return t.ln.Accept() }
func (t *tlsStream) Close() error              { return t.ln.Close() }
func (t *tlsStream) Addr() net.Addr            { return t.ln.Addr() }
