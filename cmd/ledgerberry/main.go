// Command ledgerberry runs a proof-of-conservation validator node: a
// ZeroMQ transport, a consensus engine over the in-memory ledger, and a
// Prometheus metrics endpoint.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/blockberries/ledgerberry/api"
	"github.com/blockberries/ledgerberry/checkpoint"
	"github.com/blockberries/ledgerberry/engine"
	"github.com/blockberries/ledgerberry/evidence"
	"github.com/blockberries/ledgerberry/ledger"
	"github.com/blockberries/ledgerberry/ordering"
	"github.com/blockberries/ledgerberry/privval"
	"github.com/blockberries/ledgerberry/transport"
	"github.com/blockberries/ledgerberry/types"
)

const version = "0.1.0"

func main() {
	var (
		home        = flag.String("home", ".ledgerberry", "node home directory")
		chainID     = flag.String("chain-id", "ledgerberry-dev", "chain identifier")
		name        = flag.String("name", "node", "validator name")
		laddr       = flag.String("laddr", "tcp://0.0.0.0:26656", "transport listen address")
		metricsAddr = flag.String("metrics-addr", ":26660", "metrics listen address")
		peerList    = flag.String("peers", "", "comma-separated peers as id@tcp://host:port")
		genesisPath = flag.String("genesis", "", "genesis allocation file (JSON, hex key to balance)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ledgerberry v%s\n", version)
		return
	}
	if err := run(*home, *chainID, *name, *laddr, *metricsAddr, *peerList, *genesisPath); err != nil {
		log.Fatalf("[ERROR] ledgerberry: %v", err)
	}
}

func run(home, chainID, name, laddr, metricsAddr, peerList, genesisPath string) error {
	genesis, err := loadGenesis(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	ldg, err := ledger.New(genesis)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}
	pool := ordering.NewPool(name, ordering.DefaultMaxSize)

	pv, err := privval.LoadOrGenFilePV(
		filepath.Join(home, "priv_validator_key.json"),
		filepath.Join(home, "priv_validator_state.json"),
	)
	if err != nil {
		return fmt.Errorf("load validator key: %w", err)
	}

	config := engine.DefaultConfig()
	config.ChainID = chainID

	store, err := checkpoint.NewFileStore(filepath.Join(home, "consensus_state.db"), true)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	eng, err := engine.NewEngine(config, ldg, pv, store)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	eng.SetEvidencePool(evidence.NewPool(evidence.DefaultConfig()))

	if _, err := eng.RegisterValidator(pv.GetPubKey(), name); err != nil {
		// Already present after a checkpoint restore.
		log.Printf("[INFO] node: local validator: %v", err)
	}

	metrics := api.NewMetrics("ledgerberry")

	node := transport.NewNode(name, laddr)
	node.SetHandler(func(peerID string, data []byte) error {
		err := eng.HandleConsensusMessage(peerID, data)
		if errors.Is(err, engine.ErrConservationViolated) {
			metrics.ConservationViolations.Inc()
		}
		return err
	})
	for _, peer := range strings.Split(peerList, ",") {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			continue
		}
		id, addr, ok := strings.Cut(peer, "@")
		if !ok {
			return fmt.Errorf("malformed peer %q, want id@address", peer)
		}
		node.RegisterPeer(id, addr)
	}

	eng.SetProposalBroadcaster(func(p *types.Proposal) {
		msg, err := engine.EncodeProposalMessage(p)
		if err != nil {
			log.Printf("[ERROR] node: encode proposal: %v", err)
			return
		}
		if err := node.Broadcast(msg); err != nil {
			log.Printf("WARN: node: broadcast proposal: %v", err)
		}
	})
	eng.SetVoteBroadcaster(func(v *types.Vote) {
		msg, err := engine.EncodeVoteMessage(v)
		if err != nil {
			log.Printf("[ERROR] node: encode vote: %v", err)
			return
		}
		metrics.RecordVote(types.DecisionString(v.Decision))
		if err := node.Broadcast(msg); err != nil {
			log.Printf("WARN: node: broadcast vote: %v", err)
		}
	})

	if err := node.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer node.Stop()

	srv := api.NewMetricsServer(metricsAddr)
	srv.StartAsync()
	defer srv.Stop()

	log.Printf("[INFO] node: started name=%q chain=%q laddr=%s peers=%d",
		name, chainID, laddr, len(node.Peers()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	timeouts := engine.NewTimeoutTicker(config)
	timeouts.Start()
	defer timeouts.Stop()

	eng.BeginRound()
	timeouts.ScheduleTimeout(engine.TimeoutInfo{Height: eng.Height(), Round: eng.Round()})

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Printf("[INFO] node: received %s, shutting down", sig)
			return nil

		case ti := <-timeouts.Chan():
			// A delivery for an already advanced round is stale.
			if ti.Height != eng.Height() || ti.Round != eng.Round() ||
				eng.CurrentPhase() == engine.PhaseFinalized {
				continue
			}
			log.Printf("WARN: node: round %d timed out at height %d", ti.Round, ti.Height)
			metrics.RoundTimeouts.Inc()
			eng.NextRound()
			timeouts.ScheduleTimeout(engine.TimeoutInfo{Height: eng.Height(), Round: eng.Round()})

		case <-ticker.C:
			stepConsensus(eng, ldg, pool, timeouts, metrics)

			m := eng.GetMetrics()
			metrics.Height.Set(float64(m.Height))
			metrics.Round.Set(float64(m.Round))
			metrics.ActiveValidators.Set(float64(m.ActiveValidators))
			metrics.UpdateLedger(ldg.TotalSupply(), ldg.Accounts(), pool.Size())
		}
	}
}

// stepConsensus advances the local state machine by at most one action
// per tick: propose when leading an idle round, finalize on quorum, or
// open the next height after a finalization. A leading node executes the
// pending batch in pool order and proposes the resulting transition; the
// engine hands the proposal and the leader's vote to the broadcasters.
func stepConsensus(eng *engine.Engine, ldg *ledger.Ledger, pool *ordering.Pool, timeouts *engine.TimeoutTicker, metrics *api.Metrics) {
	switch {
	case eng.CurrentPhase() == engine.PhaseFinalized:
		eng.BeginRound()
		timeouts.ScheduleTimeout(engine.TimeoutInfo{Height: eng.Height(), Round: eng.Round()})

	case eng.CheckQuorum() == engine.QuorumApproved:
		start := time.Now()
		p, err := eng.Finalize()
		if err != nil {
			log.Printf("[ERROR] node: finalize: %v", err)
			return
		}
		metrics.RecordFinalize(p.SequenceNum, time.Since(start))

	case eng.IsLeader() && eng.CurrentPhase() == engine.PhaseIdle:
		before := ldg.Snapshot()
		applied, failed := pool.Execute(ldg)
		if failed > 0 {
			log.Printf("WARN: node: %d transactions dropped from batch", failed)
		}
		pool.Cleanup()
		after := ldg.Snapshot()

		if _, err := eng.Propose(before, after, uint32(applied)); err != nil {
			log.Printf("WARN: node: propose: %v", err)
			return
		}
		metrics.ProposalsTotal.Inc()
	}
}

// loadGenesis reads a JSON allocation of hex-encoded Ed25519 public keys
// to balances. An empty path yields an empty ledger.
func loadGenesis(path string) (map[types.PublicKey]float64, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	genesis := make(map[types.PublicKey]float64, len(raw))
	for keyHex, balance := range raw {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", keyHex, err)
		}
		key, err := types.PublicKeyFromBytes(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", keyHex, err)
		}
		genesis[key] = balance
	}
	return genesis, nil
}
