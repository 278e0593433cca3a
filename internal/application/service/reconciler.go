package service

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"pricemux/internal/application/port"
	"pricemux/internal/domain"
)

// ReconcilerConfig carries the tuning knobs. Exact values are a deployment
// decision; zero fields fall back to the defaults below.
type ReconcilerConfig struct {
	ThrottleWindow         time.Duration
	PriorityThrottleWindow time.Duration // shorter window for PrioritySymbols
	PrioritySymbols        []string
	MaxChangeFraction      float64 // single-tick jump clamp, e.g. 0.10
	SignificanceFraction   float64 // below this the display snaps without animation
	InterpSteps            int
	VolumeLowRatio         float64 // incoming/aggregate below this: discard volume
	VolumeHighRatio        float64 // above this: accept outright
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = 1500 * time.Millisecond
	}
	if c.PriorityThrottleWindow <= 0 {
		c.PriorityThrottleWindow = 500 * time.Millisecond
	}
	if c.MaxChangeFraction <= 0 {
		c.MaxChangeFraction = 0.10
	}
	if c.SignificanceFraction <= 0 {
		c.SignificanceFraction = 0.0005
	}
	if c.InterpSteps <= 0 {
		c.InterpSteps = 10
	}
	if c.VolumeLowRatio <= 0 {
		c.VolumeLowRatio = 0.1
	}
	if c.VolumeHighRatio <= 0 {
		c.VolumeHighRatio = 2.0
	}
}

// Reconciler turns raw, conflicting venue ticks into one stable snapshot
// per asset. It owns the snapshot, pending-update and interpolation maps;
// feeds only ever hand it immutable RawTick values. Last valid un-throttled
// tick wins regardless of venue.
type Reconciler struct {
	mu       sync.Mutex
	cfg      ReconcilerConfig
	priority map[string]struct{}

	snaps       map[string]*domain.PriceSnapshot
	pending     map[string]port.RawTick // at most one per asset, latest wins
	lastApplied map[string]time.Time
	interp      map[string]*domain.InterpolationState

	subs    map[int]func(domain.PriceSnapshot)
	nextSub int

	now func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	cfg.applyDefaults()
	prio := make(map[string]struct{}, len(cfg.PrioritySymbols))
	for _, s := range cfg.PrioritySymbols {
		prio[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &Reconciler{
		cfg:         cfg,
		priority:    prio,
		snaps:       make(map[string]*domain.PriceSnapshot),
		pending:     make(map[string]port.RawTick),
		lastApplied: make(map[string]time.Time),
		interp:      make(map[string]*domain.InterpolationState),
		subs:        make(map[int]func(domain.PriceSnapshot)),
		now:         time.Now,
	}
}

// Ingest validates and applies one tick, or parks it as the asset's pending
// update when inside the throttle window. Reports whether the snapshot
// changed immediately.
func (r *Reconciler) Ingest(t port.RawTick) bool {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Symbol == "" {
		return false
	}

	// strip non-positive fields; a tick with nothing left is dropped
	if t.Price <= 0 {
		t.Price = 0
	}
	if t.High24h <= 0 {
		t.High24h = 0
	}
	if t.Low24h <= 0 {
		t.Low24h = 0
	}
	if t.Volume <= 0 {
		t.Volume = 0
	}
	if t.Price == 0 && t.High24h == 0 && t.Low24h == 0 && t.Volume == 0 {
		return false
	}

	r.mu.Lock()
	now := r.now()
	if now.Sub(r.lastApplied[t.Symbol]) < r.window(t.Symbol) {
		// latest-wins, no queueing
		r.pending[t.Symbol] = t
		r.mu.Unlock()
		return false
	}
	// anything parked is older than this tick and must not resurface
	delete(r.pending, t.Symbol)
	snap := r.applyLocked(t, now)
	r.mu.Unlock()

	if snap != nil {
		r.fanout(*snap)
	}
	return snap != nil
}

// FlushPending applies every pending update whose throttle window has
// elapsed. Called on the engine's step cadence.
func (r *Reconciler) FlushPending() {
	var changed []domain.PriceSnapshot

	r.mu.Lock()
	now := r.now()
	for sym, t := range r.pending {
		if now.Sub(r.lastApplied[sym]) < r.window(sym) {
			continue
		}
		delete(r.pending, sym)
		if snap := r.applyLocked(t, now); snap != nil {
			changed = append(changed, *snap)
		}
	}
	r.mu.Unlock()

	for _, s := range changed {
		r.fanout(s)
	}
}

func (r *Reconciler) window(symbol string) time.Duration {
	if _, ok := r.priority[symbol]; ok {
		return r.cfg.PriorityThrottleWindow
	}
	return r.cfg.ThrottleWindow
}

// applyLocked commits a validated tick. Caller holds the lock.
func (r *Reconciler) applyLocked(t port.RawTick, now time.Time) *domain.PriceSnapshot {
	snap := r.snaps[t.Symbol]
	if snap == nil {
		snap = &domain.PriceSnapshot{Symbol: t.Symbol}
		r.snaps[t.Symbol] = snap
	}
	snap.Unsupported = false

	if t.Price > 0 {
		prev := snap.DisplayPrice
		target := t.Price

		// bound the visible effect of one erroneous or spoofed tick
		if prev > 0 {
			maxDelta := prev * r.cfg.MaxChangeFraction
			if target > prev+maxDelta {
				target = prev + maxDelta
			} else if target < prev-maxDelta {
				target = prev - maxDelta
			}
		}

		// raw values stay authoritative, display animates to the clamp
		snap.Price = t.Price
		snap.Change24h = t.Change24h

		switch {
		case prev <= 0:
			// first valid tick: set instantly, nothing to animate from
			snap.DisplayPrice = target
			snap.DisplayChange24h = t.Change24h
			snap.Direction = domain.DirectionSame
			delete(r.interp, t.Symbol)
		case math.Abs(target-prev)/prev > r.cfg.SignificanceFraction:
			r.interp[t.Symbol] = domain.NewInterpolation(
				prev, target, snap.DisplayChange24h, t.Change24h, r.cfg.InterpSteps)
			snap.Direction = direction(prev, target)
		default:
			snap.DisplayPrice = target
			snap.DisplayChange24h = t.Change24h
			snap.Direction = direction(prev, target)
			delete(r.interp, t.Symbol)
		}
	}

	if t.High24h > 0 {
		snap.High24h = t.High24h
	}
	if t.Low24h > 0 {
		snap.Low24h = t.Low24h
	}
	if t.Volume > 0 {
		snap.Volume = r.blendVolume(snap.Volume, t.Volume)
	}

	snap.Source = t.Venue
	snap.LastUpdate = now.UnixMilli()
	r.lastApplied[t.Symbol] = now

	out := *snap
	return &out
}

// blendVolume folds a single-venue 24h volume reading into the asset's
// aggregate. Implausibly partial readings are discarded, clearly fuller
// readings accepted, and the middle range blended with a weight that favors
// the aggregate more heavily the lower the incoming ratio.
func (r *Reconciler) blendVolume(existing, incoming float64) float64 {
	if existing <= 0 {
		return incoming
	}
	ratio := incoming / existing
	if ratio < r.cfg.VolumeLowRatio {
		return existing
	}
	if ratio > r.cfg.VolumeHighRatio {
		return incoming
	}
	w := (ratio - r.cfg.VolumeLowRatio) / (r.cfg.VolumeHighRatio - r.cfg.VolumeLowRatio)
	return existing*(1-w) + incoming*w
}

func direction(prev, next float64) domain.Direction {
	switch {
	case next > prev:
		return domain.DirectionUp
	case next < prev:
		return domain.DirectionDown
	default:
		return domain.DirectionSame
	}
}

// StepInterpolations advances every active animation one step and reports
// whether any display value moved.
func (r *Reconciler) StepInterpolations() bool {
	var changed []domain.PriceSnapshot

	r.mu.Lock()
	for sym, st := range r.interp {
		price, change, done := st.Advance()
		snap := r.snaps[sym]
		if snap != nil && price > 0 {
			snap.Direction = direction(snap.DisplayPrice, price)
			snap.DisplayPrice = price
			snap.DisplayChange24h = change
			changed = append(changed, *snap)
		}
		if done {
			delete(r.interp, sym)
		}
	}
	r.mu.Unlock()

	for _, s := range changed {
		r.fanout(s)
	}
	return len(changed) > 0
}

// Restore seeds snapshots from a cache record without disturbing assets
// that already have data.
func (r *Reconciler) Restore(rec domain.CacheRecord, source string) {
	var restored []domain.PriceSnapshot

	r.mu.Lock()
	for _, s := range rec.Snapshots {
		sym := strings.ToUpper(strings.TrimSpace(s.Symbol))
		if sym == "" || s.Price <= 0 {
			continue
		}
		if _, exists := r.snaps[sym]; exists {
			continue
		}
		cp := s
		cp.Symbol = sym
		cp.Source = source
		cp.Direction = domain.DirectionSame
		cp.Unsupported = false
		r.snaps[sym] = &cp
		restored = append(restored, cp)
	}
	r.mu.Unlock()

	for _, s := range restored {
		r.fanout(s)
	}
}

// RestoreSymbol serves one cached snapshot for an asset no live or REST
// source can cover right now.
func (r *Reconciler) RestoreSymbol(s domain.PriceSnapshot, source string) {
	sym := strings.ToUpper(strings.TrimSpace(s.Symbol))
	if sym == "" || s.Price <= 0 {
		return
	}

	r.mu.Lock()
	cp := s
	cp.Symbol = sym
	cp.Source = source
	cp.Direction = domain.DirectionSame
	cp.Unsupported = false
	r.snaps[sym] = &cp
	r.mu.Unlock()

	r.fanout(cp)
}

// MarkUnsupported flags the terminal "no data obtainable" state. This is
// the only failure the engine ever surfaces to consumers.
func (r *Reconciler) MarkUnsupported(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}

	r.mu.Lock()
	snap := r.snaps[symbol]
	if snap == nil {
		snap = &domain.PriceSnapshot{Symbol: symbol}
		r.snaps[symbol] = snap
	}
	if snap.Unsupported {
		r.mu.Unlock()
		return
	}
	snap.Unsupported = true
	out := *snap
	r.mu.Unlock()

	r.fanout(out)
}

// Snapshot returns a copy of one asset's snapshot.
func (r *Reconciler) Snapshot(symbol string) (domain.PriceSnapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snaps[symbol]
	if snap == nil {
		return domain.PriceSnapshot{}, false
	}
	return *snap, true
}

// Snapshots returns copies of every snapshot, sorted by symbol.
func (r *Reconciler) Snapshots() []domain.PriceSnapshot {
	r.mu.Lock()
	out := make([]domain.PriceSnapshot, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PersistableSnapshots returns the subset worth caching: valid price, not
// unsupported.
func (r *Reconciler) PersistableSnapshots() []domain.PriceSnapshot {
	all := r.Snapshots()
	out := all[:0]
	for _, s := range all {
		if s.Price > 0 && !s.Unsupported {
			out = append(out, s)
		}
	}
	return out
}

// Subscribe registers a change callback and returns its unsubscribe func.
func (r *Reconciler) Subscribe(fn func(domain.PriceSnapshot)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// fanout invokes subscribers outside the state lock so a callback may call
// back into the reconciler.
func (r *Reconciler) fanout(s domain.PriceSnapshot) {
	r.mu.Lock()
	fns := make([]func(domain.PriceSnapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
