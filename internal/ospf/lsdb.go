package ospf

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/timerwheel"
)

// LSDB is one area's Link State Database (spec §4.5, C4), keyed by
// (type, link-state-id, advertising-router). Adapted from
// internal/isis/lsdb.go's shape (per-neighbor flood-flag maps, a
// timerwheel-driven 1-second aging loop); OSPF ages LSAs up toward
// MaxAge instead of IS-IS's countdown-to-zero remaining lifetime.
type LSDB struct {
	AreaID uint32

	mu   sync.RWMutex
	lsas map[LSAKey]*storedLSA

	rxmt map[string]map[LSAKey]bool // neighbor -> LSAs pending (re)transmission

	wheel *timerwheel.Wheel
	log   *zap.Logger

	OnLSAChange  func(*LSA)
	OnRefreshDue func(LSAKey)
}

type storedLSA struct {
	lsa   *LSA
	local bool
}

func NewLSDB(areaID uint32, log *zap.Logger) *LSDB {
	d := &LSDB{
		AreaID: areaID,
		lsas:   make(map[LSAKey]*storedLSA),
		rxmt:   make(map[string]map[LSAKey]bool),
		wheel:  timerwheel.New(false),
		log:    log,
	}
	d.wheel.Schedule("age", time.Second, true, d.ageLSAs)
	return d
}

func (d *LSDB) Close() { d.wheel.Close() }

func (d *LSDB) Get(key LSAKey) (*LSA, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.lsas[key]
	if !ok {
		return nil, false
	}
	return s.lsa, true
}

func (d *LSDB) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lsas)
}

// All returns every LSA sorted by key, used for DBD summaries.
func (d *LSDB) All() []*LSA {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*LSA, 0, len(d.lsas))
	for _, s := range d.lsas {
		out = append(out, s.lsa)
	}
	sort.Slice(out, func(i, j int) bool { return lsaKeyLess(out[i].Header.Key(), out[j].Header.Key()) })
	return out
}

func lsaKeyLess(a, b LSAKey) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.LinkStateID != b.LinkStateID {
		return a.LinkStateID < b.LinkStateID
	}
	return a.AdvRouter < b.AdvRouter
}

// Install applies spec §4.5 steps 2-4: look up, compare freshness,
// install if new/fresher. Returns whether lsa was installed and the
// header of the copy already held (nil when there was none) so the caller
// can distinguish step 4's "equal, silently ack" from step 5's "older,
// send our copy back" and step 6's flood-except-origin fan-out.
// receivedOn names the interface the LSA arrived on, if any ("" for
// self-originated LSAs); that interface is excluded from the rxmt fan-out
// so we never flood an LSA back out the circuit it just came in on.
func (d *LSDB) Install(lsa *LSA, local bool, receivedOn string) (installed bool, existing *LSAHeader) {
	key := lsa.Header.Key()
	d.mu.Lock()
	s, had := d.lsas[key]
	if had {
		existingHdr := s.lsa.Header
		existing = &existingHdr
		if !Fresher(&lsa.Header, &s.lsa.Header) {
			d.mu.Unlock()
			return false, existing
		}
	}
	d.lsas[key] = &storedLSA{lsa: lsa, local: local}
	for neighbor := range d.rxmt {
		if neighbor == receivedOn {
			continue
		}
		d.rxmt[neighbor][key] = true
	}
	d.mu.Unlock()

	if d.OnLSAChange != nil {
		d.OnLSAChange(lsa)
	}
	return true, existing
}

// Remove flushes an LSA (MaxAge purge or explicit withdrawal).
func (d *LSDB) Remove(key LSAKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.lsas[key]
	if ok {
		delete(d.lsas, key)
		for _, flags := range d.rxmt {
			delete(flags, key)
		}
	}
	return ok
}

func (d *LSDB) RegisterNeighbor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rxmt[id]; !ok {
		d.rxmt[id] = make(map[LSAKey]bool)
	}
}

func (d *LSDB) UnregisterNeighbor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rxmt, id)
}

func (d *LSDB) SetRxmt(neighbor string, key LSAKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rxmt[neighbor] == nil {
		d.rxmt[neighbor] = make(map[LSAKey]bool)
	}
	d.rxmt[neighbor][key] = true
}

func (d *LSDB) ClearRxmt(neighbor string, key LSAKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rxmt[neighbor], key)
}

func (d *LSDB) PendingRxmt(neighbor string) []*LSA {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*LSA
	for key := range d.rxmt[neighbor] {
		if s, ok := d.lsas[key]; ok {
			out = append(out, s.lsa)
		}
	}
	return out
}

// ageLSAs runs every second: non-self LSAs age up toward MaxAge and are
// purged on reaching it; self-originated LSAs are flagged for refresh
// once they cross LSRefreshTime (spec §3: "self-originated LSAs are
// refreshed before LSRefreshTime").
func (d *LSDB) ageLSAs() {
	d.mu.Lock()
	var expired, refresh []LSAKey
	for key, s := range d.lsas {
		if s.lsa.Header.Age < MaxAge {
			s.lsa.Header.Age++
		}
		if s.local {
			if time.Duration(s.lsa.Header.Age)*time.Second >= DefaultLSRefreshTime {
				refresh = append(refresh, key)
			}
			continue
		}
		if s.lsa.Header.Age >= MaxAge {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(d.lsas, key)
		for _, flags := range d.rxmt {
			delete(flags, key)
		}
	}
	d.mu.Unlock()

	for _, key := range expired {
		d.log.Info("lsa reached maxage", zap.Any("key", key))
	}
	for _, key := range refresh {
		if d.OnRefreshDue != nil {
			d.OnRefreshDue(key)
		}
	}
}

// Stats mirrors internal/isis's observation surface shape for spec §6's
// `ospf.lsdb()`.
type Stats struct {
	AreaID    uint32
	TotalLSAs int
	LocalLSAs int
	RemoteLSAs int
}

func (d *LSDB) Statistics() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	local := 0
	for _, s := range d.lsas {
		if s.local {
			local++
		}
	}
	return Stats{AreaID: d.AreaID, TotalLSAs: len(d.lsas), LocalLSAs: local, RemoteLSAs: len(d.lsas) - local}
}
