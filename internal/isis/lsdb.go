package isis

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/timerwheel"
)

// LSDB is one level's Link State Database (spec §4.5: "dual-level
// LSDB, L1 and L2 kept separate"). Adapted from lsdb.py's LSDB class:
// the per-neighbor SRM/SSN flag sets and the 1-second aging loop carry
// over directly, the aging loop itself now driven by this codebase's
// timerwheel instead of a raw asyncio task.
type LSDB struct {
	Level Level

	mu   sync.RWMutex
	lsps map[LSPID]*storedLSP

	srm map[string]map[LSPID]bool // neighbor -> LSP IDs pending flood
	ssn map[string]map[LSPID]bool // neighbor -> LSP IDs pending PSNP ack

	wheel *timerwheel.Wheel
	log   *zap.Logger

	OnLSPChange func(*LSP)
	OnLSPExpired func(LSPID)
}

type storedLSP struct {
	lsp          *LSP
	local        bool
	receivedFrom SystemID
	receivedAt   time.Time
}

func NewLSDB(level Level, log *zap.Logger) *LSDB {
	d := &LSDB{
		Level: level,
		lsps:  make(map[LSPID]*storedLSP),
		srm:   make(map[string]map[LSPID]bool),
		ssn:   make(map[string]map[LSPID]bool),
		wheel: timerwheel.New(false),
		log:   log,
	}
	d.wheel.Schedule("age", time.Second, true, d.ageLSPs)
	return d
}

func (d *LSDB) Close() { d.wheel.Close() }

func (d *LSDB) Get(id LSPID) (*LSP, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.lsps[id]
	if !ok {
		return nil, false
	}
	return s.lsp, true
}

func (d *LSDB) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lsps)
}

// All returns every LSP sorted by ID, matching lsdb.py's
// sorted(self._lsps.items()) ordering used for CSNP construction.
func (d *LSDB) All() []*LSP {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*LSP, 0, len(d.lsps))
	for _, s := range d.lsps {
		out = append(out, s.lsp)
	}
	sort.Slice(out, func(i, j int) bool { return lspIDLess(out[i].ID, out[j].ID) })
	return out
}

func lspIDLess(a, b LSPID) bool {
	for i := range a.System {
		if a.System[i] != b.System[i] {
			return a.System[i] < b.System[i]
		}
	}
	if a.PseudoNode != b.PseudoNode {
		return a.PseudoNode < b.PseudoNode
	}
	return a.Number < b.Number
}

// Install inserts or updates an LSP in the database (spec §4.5's flooding
// entry point). Returns false if rejected as stale — matching
// lsdb.py's install_lsp sequence-number comparison — and sets the SRM
// flag for every registered neighbor on acceptance so the flooding
// fan-out (owned by the caller) knows who still needs a copy.
func (d *LSDB) Install(lsp *LSP, receivedFrom SystemID, local bool) bool {
	d.mu.Lock()
	existing, had := d.lsps[lsp.ID]
	if had && lsp.SeqNumber <= existing.lsp.SeqNumber {
		d.mu.Unlock()
		d.log.Debug("rejecting stale lsp", zap.String("lsp_id", lsp.ID.String()),
			zap.Uint32("new_seq", lsp.SeqNumber), zap.Uint32("existing_seq", existing.lsp.SeqNumber))
		return false
	}
	d.lsps[lsp.ID] = &storedLSP{lsp: lsp, local: local, receivedFrom: receivedFrom, receivedAt: time.Now()}
	for neighbor := range d.srm {
		d.srm[neighbor][lsp.ID] = true
	}
	d.mu.Unlock()

	if d.OnLSPChange != nil {
		d.OnLSPChange(lsp)
	}
	return true
}

func (d *LSDB) Remove(id LSPID) bool {
	d.mu.Lock()
	_, ok := d.lsps[id]
	if ok {
		delete(d.lsps, id)
		for _, flags := range d.srm {
			delete(flags, id)
		}
		for _, flags := range d.ssn {
			delete(flags, id)
		}
	}
	d.mu.Unlock()
	return ok
}

// RegisterNeighbor/UnregisterNeighbor track which peers participate in
// this level's flooding (spec §4.5's per-neighbor SRM/SSN bookkeeping).
func (d *LSDB) RegisterNeighbor(neighbor string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.srm[neighbor]; !ok {
		d.srm[neighbor] = make(map[LSPID]bool)
	}
	if _, ok := d.ssn[neighbor]; !ok {
		d.ssn[neighbor] = make(map[LSPID]bool)
	}
}

func (d *LSDB) UnregisterNeighbor(neighbor string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.srm, neighbor)
	delete(d.ssn, neighbor)
}

func (d *LSDB) SetSRM(neighbor string, id LSPID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srm[neighbor] == nil {
		d.srm[neighbor] = make(map[LSPID]bool)
	}
	d.srm[neighbor][id] = true
}

func (d *LSDB) ClearSRM(neighbor string, id LSPID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.srm[neighbor], id)
}

// PendingFlood returns the LSPs still flagged SRM for neighbor (spec
// §4.5's flooding queue — the caller drains this on its own cadence and
// calls ClearSRM once a neighbor acknowledges via PSNP, or right after
// sending on a broadcast circuit).
func (d *LSDB) PendingFlood(neighbor string) []*LSP {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*LSP
	for id := range d.srm[neighbor] {
		if s, ok := d.lsps[id]; ok {
			out = append(out, s.lsp)
		}
	}
	return out
}

func (d *LSDB) SetSSN(neighbor string, id LSPID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ssn[neighbor] == nil {
		d.ssn[neighbor] = make(map[LSPID]bool)
	}
	d.ssn[neighbor][id] = true
}

func (d *LSDB) ClearSSN(neighbor string, id LSPID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ssn[neighbor], id)
}

func (d *LSDB) PendingAck(neighbor string) []LSPID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]LSPID, 0, len(d.ssn[neighbor]))
	for id := range d.ssn[neighbor] {
		out = append(out, id)
	}
	return out
}

func (d *LSDB) ageLSPs() {
	d.mu.Lock()
	var expired []LSPID
	for id, s := range d.lsps {
		if s.local {
			continue
		}
		if s.lsp.RemainingLifetime == 0 {
			expired = append(expired, id)
			continue
		}
		s.lsp.RemainingLifetime--
		if s.lsp.RemainingLifetime == 0 {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(d.lsps, id)
		for _, flags := range d.srm {
			delete(flags, id)
		}
		for _, flags := range d.ssn {
			delete(flags, id)
		}
	}
	d.mu.Unlock()

	for _, id := range expired {
		d.log.Info("lsp expired", zap.String("lsp_id", id.String()))
		if d.OnLSPExpired != nil {
			d.OnLSPExpired(id)
		}
	}
}

// CSNPEntries builds the LSP-Entries summary for a full CSNP (spec
// §4.5's periodic sync), sorted by LSP ID to match lsdb.py's
// get_csnp_entries ordering (CSNP range comparison on both sides relies
// on a consistent sort order).
func (d *LSDB) CSNPEntries() []LSPEntry {
	lsps := d.All()
	out := make([]LSPEntry, 0, len(lsps))
	for _, l := range lsps {
		out = append(out, LSPEntry{
			RemainingLifetime: l.RemainingLifetime,
			ID:                l.ID,
			SeqNumber:         l.SeqNumber,
			Checksum:          l.Checksum,
		})
	}
	return out
}

// CompareCSNP implements lsdb.py's compare_csnp: given the entries a
// neighbor's CSNP reports, returns the LSP IDs we're missing (need to
// PSNP-request), the ones the neighbor is missing (need to flood /
// SRM-flag), and the ones where we hold a strictly newer copy (also
// flagged for re-flood, same as "missing remotely" from the neighbor's
// point of view).
func (d *LSDB) CompareCSNP(remote []LSPEntry) (missingLocally, missingRemotely, newerLocally []LSPID) {
	remoteByID := make(map[LSPID]LSPEntry, len(remote))
	for _, e := range remote {
		remoteByID[e.ID] = e
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for id := range remoteByID {
		if _, ok := d.lsps[id]; !ok {
			missingLocally = append(missingLocally, id)
		}
	}
	for id, s := range d.lsps {
		re, ok := remoteByID[id]
		if !ok {
			missingRemotely = append(missingRemotely, id)
			continue
		}
		if s.lsp.SeqNumber > re.SeqNumber {
			newerLocally = append(newerLocally, id)
		}
	}
	return missingLocally, missingRemotely, newerLocally
}

// Stats mirrors lsdb.py's get_statistics for the observation surface
// (spec §6: "isis.* lsdb size").
type Stats struct {
	Level               Level
	TotalLSPs           int
	LocalLSPs           int
	RemoteLSPs          int
	RegisteredNeighbors int
}

func (d *LSDB) Statistics() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	local := 0
	for _, s := range d.lsps {
		if s.local {
			local++
		}
	}
	return Stats{
		Level:               d.Level,
		TotalLSPs:           len(d.lsps),
		LocalLSPs:           local,
		RemoteLSPs:          len(d.lsps) - local,
		RegisteredNeighbors: len(d.srm),
	}
}

// DualLSDB owns both level databases for a router running L1, L2, or
// both (spec §4.5). Adapted from lsdb.py's DualLSDB, generalized so a
// pure-L1 or pure-L2 router simply leaves the unused side nil rather
// than allocating and never using it.
type DualLSDB struct {
	L1 *LSDB
	L2 *LSDB
}

func NewDualLSDB(mode Level, log *zap.Logger) *DualLSDB {
	d := &DualLSDB{}
	if mode == Level1 || mode == 0 {
		d.L1 = NewLSDB(Level1, log.Named("l1"))
	}
	if mode == Level2 || mode == 0 {
		d.L2 = NewLSDB(Level2, log.Named("l2"))
	}
	return d
}

func (d *DualLSDB) For(level Level) *LSDB {
	if level == Level1 {
		return d.L1
	}
	return d.L2
}

func (d *DualLSDB) Close() {
	if d.L1 != nil {
		d.L1.Close()
	}
	if d.L2 != nil {
		d.L2.Close()
	}
}
