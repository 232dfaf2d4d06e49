// Package clustermgr owns ring membership, leader election, heartbeat
// monitoring, and log-diff replication — §4.7. It never touches a
// socket directly: outbound cluster traffic is handed to whichever
// Coordinator accepted the peer connection, via the PeerSender
// injected through SetPeer after both sides are constructed (the
// two-phase setup described in §11's "cyclic addresses" design note).
package clustermgr

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"foodmesh/internal/config"
	"foodmesh/internal/metrics"
	"foodmesh/internal/storage"
	"foodmesh/internal/wire"
)

// PeerSender delivers a NetworkMessage to another cluster node's
// address. Implemented by Coordinator.
type PeerSender interface {
	SendTo(addr string, msg wire.NetworkMessage)
}

// PromotionListener is notified when this node becomes leader, so
// that Storage can begin pushing log diffs (§4.7's "PromoteToLeader
// event").
type PromotionListener interface {
	OnPromotedToLeader()
}

// Manager is the coordinator manager's mailbox.
type Manager struct {
	selfAddr string
	selfID   string
	ring     []string // sorted node addresses, fixed at startup

	cfg   config.Config
	store *storage.Storage
	log   zerolog.Logger

	peer      PeerSender
	promotion PromotionListener

	mailbox chan func(*managerState)
}

type managerState struct {
	currentLeader string
	currentTerm   uint64
	lastPong      map[string]time.Time

	electing      bool
	electionTerm  uint64
	electionCands map[string]bool
	electionOrder []string
}

// New returns a Manager for a fixed-ring cluster. selfAddr must appear
// in ring. selfID is this node's "server_<i>" identifier.
func New(selfAddr string, ring []string, selfID string, cfg config.Config, store *storage.Storage, log zerolog.Logger) *Manager {
	sorted := append([]string(nil), ring...)
	sort.Strings(sorted)
	metrics.RingSize.Set(float64(len(sorted)))
	return &Manager{
		selfAddr: selfAddr,
		selfID:   selfID,
		ring:     sorted,
		cfg:      cfg,
		store:    store,
		log:      log,
		mailbox:  make(chan func(*managerState), 256),
	}
}

// SetPeer closes the Coordinator ↔ Manager construction cycle and
// optionally registers a promotion listener.
func (m *Manager) SetPeer(peer PeerSender, promotion PromotionListener) {
	m.peer = peer
	m.promotion = promotion
}

// successor returns the next address on the ring after addr.
func (m *Manager) successor(addr string) string {
	for i, a := range m.ring {
		if a == addr {
			return m.ring[(i+1)%len(m.ring)]
		}
	}
	return m.ring[0]
}

// CurrentLeader returns the leader address this node currently
// believes in, or "" if unknown.
func (m *Manager) CurrentLeader() string {
	out := make(chan string, 1)
	m.mailbox <- func(st *managerState) { out <- st.currentLeader }
	return <-out
}

// CurrentTerm returns this node's current election term.
func (m *Manager) CurrentTerm() uint64 {
	out := make(chan uint64, 1)
	m.mailbox <- func(st *managerState) { out <- st.currentTerm }
	return <-out
}

// IsLeader reports whether this node currently believes itself to be
// leader.
func (m *Manager) IsLeader() bool {
	out := make(chan bool, 1)
	m.mailbox <- func(st *managerState) { out <- st.currentLeader == m.selfAddr }
	return <-out
}

// Run is the manager's mailbox loop plus its two tickers: heartbeat
// (each round followed, TimeoutHeartbeat later, by the leader-liveness
// check) and replication.
func (m *Manager) Run(ctx context.Context) {
	st := &managerState{lastPong: make(map[string]time.Time)}

	heartbeat := time.NewTicker(m.cfg.IntervalHeartbeat)
	defer heartbeat.Stop()
	replicate := time.NewTicker(m.cfg.IntervalStorage)
	defer replicate.Stop()

	for {
		select {
		case fn := <-m.mailbox:
			fn(st)
		case <-heartbeat.C:
			m.sendHeartbeats(st)
			// Judge the leader only once this round's pong has had
			// TimeoutHeartbeat to arrive.
			time.AfterFunc(m.cfg.TimeoutHeartbeat, func() {
				select {
				case m.mailbox <- m.checkLeaderLiveness:
				case <-ctx.Done():
				}
			})
		case <-replicate.C:
			m.replicateIfLeader(st)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sendHeartbeats(st *managerState) {
	for _, addr := range m.ring {
		if addr == m.selfAddr {
			continue
		}
		m.peer.SendTo(addr, wire.Ping{From: m.selfAddr})
	}
}

func (m *Manager) checkLeaderLiveness(st *managerState) {
	if st.currentLeader == "" || st.currentLeader == m.selfAddr {
		return
	}
	last, ok := st.lastPong[st.currentLeader]
	if ok && time.Since(last) <= m.cfg.TimeoutHeartbeat {
		return
	}
	m.log.Warn().Str("leader", st.currentLeader).Msg("leader heartbeat timeout, initiating election")
	metrics.HeartbeatTimeouts.Inc()
	m.startElection(st)
}

func (m *Manager) replicateIfLeader(st *managerState) {
	if st.currentLeader != m.selfAddr {
		return
	}
	entries := m.store.GetLogsFromIndex(0)
	pairs, err := storage.EntriesToWire(entries)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encode log entries for replication")
		return
	}
	for _, addr := range m.ring {
		if addr == m.selfAddr {
			continue
		}
		m.peer.SendTo(addr, wire.StorageUpdates{IsLeader: false, Updates: pairs})
	}
	if len(entries) > 0 {
		m.store.ApplyStorageUpdates(true, entries)
	}
}

// --- inbound handlers ---

// HandlePing replies with Pong.
func (m *Manager) HandlePing(from string) {
	m.mailbox <- func(st *managerState) {
		m.peer.SendTo(from, wire.Pong{From: m.selfAddr})
	}
}

// HandlePong records the liveness of from.
func (m *Manager) HandlePong(from string) {
	m.mailbox <- func(st *managerState) {
		st.lastPong[from] = time.Now()
	}
}

// HandleWhoIsLeader answers a peer coordinator's leader query.
func (m *Manager) HandleWhoIsLeader(originAddr string) {
	m.mailbox <- func(st *managerState) {
		if st.currentLeader == "" {
			m.peer.SendTo(originAddr, wire.RetryLater{OriginAddr: originAddr})
			return
		}
		m.peer.SendTo(originAddr, wire.LeaderIs{CoordAddr: st.currentLeader, Term: st.currentTerm})
	}
}

// startElection begins a Chang-Roberts style election by forwarding a
// LeaderElection message to this node's successor. Must only be
// called from the mailbox goroutine.
func (m *Manager) startElection(st *managerState) {
	st.electing = true
	st.electionTerm = st.currentTerm + 1
	metrics.ElectionsTriggered.Inc()
	m.peer.SendTo(m.successor(m.selfAddr), wire.LeaderElection{
		Initiator:  m.selfAddr,
		Candidates: []string{m.selfAddr},
		Term:       st.electionTerm,
	})
}

// HandleLeaderElection implements the ring traversal: append self if
// absent, adopt max(term), forward, and elect on return to the
// initiator.
func (m *Manager) HandleLeaderElection(initiator string, candidates []string, term uint64) {
	m.mailbox <- func(st *managerState) {
		// A higher-numbered election in progress always wins over our
		// own in-flight attempt, preventing two simultaneous elections
		// from both declaring a winner.
		if term > st.electionTerm {
			st.electionTerm = term
		}

		if initiator == m.selfAddr {
			if !st.electing || term < st.electionTerm {
				// Superseded by a higher-term election, or a leader was
				// already announced while this one was in flight.
				m.log.Info().Uint64("term", term).Msg("own election superseded, abandoning")
				return
			}
			leader := minAddr(candidates)
			st.currentLeader = leader
			st.currentTerm = term
			st.electing = false
			metrics.CurrentTerm.Set(float64(term))
			m.log.Info().Str("leader", leader).Uint64("term", term).Msg("election concluded")
			for _, addr := range m.ring {
				if addr == m.selfAddr {
					continue
				}
				m.peer.SendTo(addr, wire.LeaderIs{CoordAddr: leader, Term: term})
			}
			if leader == m.selfAddr && m.promotion != nil {
				m.promotion.OnPromotedToLeader()
			}
			return
		}

		next := append([]string(nil), candidates...)
		found := false
		for _, c := range next {
			if c == m.selfAddr {
				found = true
				break
			}
		}
		if !found {
			next = append(next, m.selfAddr)
		}
		m.peer.SendTo(m.successor(m.selfAddr), wire.LeaderElection{
			Initiator:  initiator,
			Candidates: next,
			Term:       term,
		})
	}
}

// HandleLeaderIs updates this node's view of the current leader,
// ignoring stale terms.
func (m *Manager) HandleLeaderIs(coordAddr string, term uint64) {
	m.mailbox <- func(st *managerState) {
		if term < st.currentTerm {
			return
		}
		wasLeader := st.currentLeader == m.selfAddr
		st.currentLeader = coordAddr
		st.currentTerm = term
		st.electing = false
		metrics.CurrentTerm.Set(float64(term))
		if coordAddr == m.selfAddr && !wasLeader && m.promotion != nil {
			m.promotion.OnPromotedToLeader()
		}
	}
}

// HandleStorageUpdates applies an incoming replication batch.
func (m *Manager) HandleStorageUpdates(isLeader bool, pairs []wire.LogEntryPair) {
	m.mailbox <- func(st *managerState) {
		entries, err := storage.EntriesFromWire(pairs)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to decode replication batch")
			return
		}
		// Entries arrive ordered by id, so the first one is where the
		// leader's retained window starts; a follower whose next id is
		// below it has missed entries the leader no longer holds.
		lagging := len(entries) > 0 && m.store.NextLogID() < entries[0].ID
		m.store.ApplyStorageUpdates(isLeader, entries)

		if st.currentLeader != "" && st.currentLeader != m.selfAddr {
			if lagging {
				m.peer.SendTo(st.currentLeader, wire.RequestAllStorage{CoordinatorID: m.selfID})
			}
		}
	}
}

// HandleRequestAllStorage serves a lagging follower's snapshot request.
func (m *Manager) HandleRequestAllStorage(fromCoordinatorID, fromAddr string) {
	m.mailbox <- func(st *managerState) {
		snap := m.store.GetAllStorage()
		raw, err := storage.SnapshotToWire(snap)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to encode snapshot")
			return
		}
		m.peer.SendTo(fromAddr, wire.StorageSnapshot{Snapshot: raw})
	}
}

// HandleStorageSnapshot applies a wholesale snapshot received from the
// leader.
func (m *Manager) HandleStorageSnapshot(raw []byte) {
	m.mailbox <- func(st *managerState) {
		snap, err := storage.SnapshotFromWire(raw)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to decode snapshot")
			return
		}
		m.store.ApplyStorageSnapshot(snap)
	}
}

// HandleRequestNewStorageUpdates answers a freshly promoted leader's
// backfill request with every entry at or after startIndex.
func (m *Manager) HandleRequestNewStorageUpdates(fromAddr string, startIndex uint64) {
	m.mailbox <- func(st *managerState) {
		entries := m.store.GetLogsFromIndex(startIndex)
		pairs, err := storage.EntriesToWire(entries)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to encode backfill batch")
			return
		}
		m.peer.SendTo(fromAddr, wire.StorageUpdates{IsLeader: false, Updates: pairs})
	}
}

// RequestBackfill is called once by a freshly promoted leader to ask
// every peer for entries it might be missing, per §4.7's "new leader
// bootstrap."
func (m *Manager) RequestBackfill() {
	m.mailbox <- func(st *managerState) {
		startIndex := m.store.NextLogID()
		for _, addr := range m.ring {
			if addr == m.selfAddr {
				continue
			}
			m.peer.SendTo(addr, wire.RequestNewStorageUpdates{CoordinatorID: m.selfID, StartIndex: startIndex})
		}
	}
}

func minAddr(addrs []string) string {
	min := addrs[0]
	for _, a := range addrs[1:] {
		if a < min {
			min = a
		}
	}
	return min
}
