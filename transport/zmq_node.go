// Package transport provides ZeroMQ-based peer networking for consensus
// messages. A Node binds a ROUTER socket for inbound traffic and keeps
// one DEALER socket per registered peer for outbound traffic. Payloads
// travel inside a cramberry-encoded Envelope carrying the sender, a
// monotonic nonce and a timestamp; the nonce and a time tolerance window
// give replay protection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// Errors
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrSendFailed     = errors.New("failed to send message")
)

const (
	inboundQueueSize = 1024

	// replayTolerance bounds how old an envelope timestamp may be.
	replayTolerance = 60 * time.Second

	replayCleanInterval = 30 * time.Second
)

// Envelope is the wire frame around a consensus payload.
type Envelope struct {
	From      string `cramberry:"1"`
	Nonce     uint64 `cramberry:"2"`
	Timestamp int64  `cramberry:"3"`
	Payload   []byte `cramberry:"4"`
}

// PeerInfo describes a registered peer.
type PeerInfo struct {
	ID       string
	Address  string
	LastSeen time.Time
}

// Handler processes an inbound payload from the named peer.
type Handler func(peerID string, payload []byte) error

// Node is a ZeroMQ transport node.
type Node struct {
	nodeID  string
	address string

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket
	dealers map[string]zmq4.Socket

	peers map[string]*PeerInfo
	mu    sync.RWMutex

	handler Handler
	inbound chan *Envelope

	sendNonce uint64

	replayMu    sync.Mutex
	replayCache map[string]time.Time

	running bool
	wg      sync.WaitGroup
}

// NewNode creates a transport node that will listen on the given
// address, e.g. "tcp://0.0.0.0:26656".
func NewNode(nodeID, address string) *Node {
	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		nodeID:      nodeID,
		address:     address,
		ctx:         ctx,
		cancel:      cancel,
		dealers:     make(map[string]zmq4.Socket),
		peers:       make(map[string]*PeerInfo),
		inbound:     make(chan *Envelope, inboundQueueSize),
		replayCache: make(map[string]time.Time),
	}
}

// Start binds the ROUTER socket and launches the receive loops.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return errors.New("node already running")
	}

	n.router = zmq4.NewRouter(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.nodeID)))
	if err := n.router.Listen(n.address); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("bind router: %w", err)
	}

	n.running = true
	n.mu.Unlock()

	n.wg.Add(3)
	go n.receiverLoop()
	go n.dispatchLoop()
	go n.replayCacheCleaner()

	return nil
}

// Stop shuts the node down and waits for the loops to exit.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.cancel()

	if n.router != nil {
		if err := n.router.Close(); err != nil {
			log.Printf("WARN: transport: close router: %v", err)
		}
	}
	n.mu.Lock()
	for _, dealer := range n.dealers {
		if err := dealer.Close(); err != nil {
			log.Printf("WARN: transport: close dealer: %v", err)
		}
	}
	n.mu.Unlock()

	n.wg.Wait()
	close(n.inbound)
}

// RegisterPeer adds a peer the node may send to.
func (n *Node) RegisterPeer(peerID, address string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.peers[peerID] = &PeerInfo{
		ID:       peerID,
		Address:  address,
		LastSeen: time.Now(),
	}
}

// UnregisterPeer removes a peer and closes its outbound socket.
func (n *Node) UnregisterPeer(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.peers, peerID)
	if dealer, ok := n.dealers[peerID]; ok {
		if err := dealer.Close(); err != nil {
			log.Printf("WARN: transport: close dealer for %s: %v", peerID, err)
		}
		delete(n.dealers, peerID)
	}
}

// SetHandler sets the inbound payload handler.
func (n *Node) SetHandler(handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

// Send delivers a payload to one peer.
func (n *Node) Send(peerID string, payload []byte) error {
	n.mu.RLock()
	if !n.running {
		n.mu.RUnlock()
		return ErrNodeNotRunning
	}
	peer, ok := n.peers[peerID]
	if !ok {
		n.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	address := peer.Address
	n.mu.RUnlock()

	dealer, err := n.getOrCreateDealer(peerID, address)
	if err != nil {
		return err
	}

	env := &Envelope{
		From:      n.nodeID,
		Nonce:     atomic.AddUint64(&n.sendNonce, 1),
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
	data, err := cramberry.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := dealer.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Broadcast sends a payload to every registered peer except those listed
// in exclude. The last send error is returned after all peers were
// attempted.
func (n *Node) Broadcast(payload []byte, exclude ...string) error {
	n.mu.RLock()
	if !n.running {
		n.mu.RUnlock()
		return ErrNodeNotRunning
	}
	peerIDs := make([]string, 0, len(n.peers))
	for id := range n.peers {
		peerIDs = append(peerIDs, id)
	}
	n.mu.RUnlock()

	excludeSet := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excludeSet[id] = true
	}

	var lastErr error
	for _, peerID := range peerIDs {
		if excludeSet[peerID] {
			continue
		}
		if err := n.Send(peerID, payload); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Peers returns a copy of the registered peers.
func (n *Node) Peers() map[string]*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make(map[string]*PeerInfo, len(n.peers))
	for id, peer := range n.peers {
		cp := *peer
		peers[id] = &cp
	}
	return peers
}

func (n *Node) getOrCreateDealer(peerID, address string) (zmq4.Socket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dealer, ok := n.dealers[peerID]; ok {
		return dealer, nil
	}

	dealer := zmq4.NewDealer(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.nodeID)))
	if err := dealer.Dial(address); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}

	n.dealers[peerID] = dealer
	return dealer, nil
}

func (n *Node) receiverLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
			msg, err := n.router.Recv()
			if err != nil {
				select {
				case <-n.ctx.Done():
					return
				default:
					continue
				}
			}

			env := &Envelope{}
			if err := cramberry.Unmarshal(msg.Bytes(), env); err != nil {
				continue
			}
			if !n.admitEnvelope(env) {
				continue
			}

			n.mu.Lock()
			if peer, ok := n.peers[env.From]; ok {
				peer.LastSeen = time.Now()
			}
			n.mu.Unlock()

			select {
			case n.inbound <- env:
			default:
				// Queue full, drop.
			}
		}
	}
}

func (n *Node) dispatchLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case env, ok := <-n.inbound:
			if !ok {
				return
			}

			n.mu.RLock()
			handler := n.handler
			n.mu.RUnlock()

			if handler == nil {
				continue
			}
			if err := handler(env.From, env.Payload); err != nil {
				log.Printf("WARN: transport: handler rejected message from %s: %v", env.From, err)
			}
		}
	}
}

// admitEnvelope applies replay protection: each (sender, nonce) pair is
// accepted once, and envelopes older than the tolerance window are
// dropped.
func (n *Node) admitEnvelope(env *Envelope) bool {
	key := fmt.Sprintf("%s/%d", env.From, env.Nonce)

	n.replayMu.Lock()
	defer n.replayMu.Unlock()

	if _, seen := n.replayCache[key]; seen {
		return false
	}
	if time.Since(time.Unix(env.Timestamp, 0)) > replayTolerance {
		return false
	}
	n.replayCache[key] = time.Now()
	return true
}

func (n *Node) replayCacheCleaner() {
	defer n.wg.Done()

	ticker := time.NewTicker(replayCleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.replayMu.Lock()
			cutoff := time.Now().Add(-replayTolerance)
			for key, ts := range n.replayCache {
				if ts.Before(cutoff) {
					delete(n.replayCache, key)
				}
			}
			n.replayMu.Unlock()
		}
	}
}

// Stats is a point-in-time view of the node.
type Stats struct {
	NodeID    string
	Address   string
	PeerCount int
	IsRunning bool
	QueueSize int
}

// GetStats returns current node statistics.
func (n *Node) GetStats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return Stats{
		NodeID:    n.nodeID,
		Address:   n.address,
		PeerCount: len(n.peers),
		IsRunning: n.running,
		QueueSize: len(n.inbound),
	}
}
