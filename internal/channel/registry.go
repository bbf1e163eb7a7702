package channel

import (
	"log/slog"
	"sync"

	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/dispatch"
	"github.com/rickgao/crm-realtime/internal/metrics"
	"github.com/rickgao/crm-realtime/internal/model"
)

// Conn is the part of the connection manager the registry uses.
type Conn interface {
	Emit(event string, payload any) error
	OnStateChange(fn func(connection.StateChange)) *dispatch.Subscription
}

// Record is the registry's view of one channel.
type Record struct {
	ID          string
	Joined      bool // Wanted by this process (set optimistically on Join)
	PendingJoin bool // Join intent not yet written to a live connection
	Pinned      bool // Held by a plain Join until Leave
	Interest    int  // Outstanding Acquire calls
}

// Registry tracks wanted channels and keeps the server in sync with them.
//
// Intents are written outside mu but under sendMu, so the server sees joins
// and leaves in the order they were decided. Replay after a reconnect runs on
// its own goroutine; a stalled socket delays it by at most WriteTimeout per
// channel without holding up the connection loop.
type Registry struct {
	conn   Conn
	logger *slog.Logger
	sub    *dispatch.Subscription

	sendMu sync.Mutex
	wg     sync.WaitGroup // replays

	mu        sync.Mutex
	connected bool
	epoch     uint64 // bumped on every transition to connected
	closed    bool
	records   map[string]*Record
	order     []string // join order, used for replay
	pending   []string // joins waiting for a connection
}

// NewRegistry creates a registry bound to conn. It must be created before
// the connection is first established so it observes every transition.
func NewRegistry(conn Conn, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		conn:    conn,
		logger:  logger.With("component", "channel"),
		records: make(map[string]*Record),
	}
	r.sub = conn.OnStateChange(r.onStateChange)
	return r
}

// Join marks id as wanted until Leave. The join intent is written now if
// connected, otherwise on the next transition to connected.
func (r *Registry) Join(id string) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	rec, send := r.joinLocked(id)
	rec.Pinned = true
	epoch := r.epoch
	r.mu.Unlock()

	if send {
		r.sendJoin(rec, epoch)
	}
}

// Leave forgets id, whoever holds it. A leave intent is written if
// connected; offline leaves are dropped since the server holds no
// membership for us then.
func (r *Registry) Leave(id string) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	r.leave(id, nil)
}

// IsJoined reports whether id is currently wanted.
func (r *Registry) IsJoined(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && rec.Joined
}

// Acquire registers interest in id, joining it on the first acquisition.
// The returned release leaves the channel once every acquisition is
// released, unless a plain Join still holds it. A release only affects the
// record it acquired: after Leave, it never touches a later record for the
// same id. Calling release more than once has no further effect.
func (r *Registry) Acquire(id string) (release func()) {
	r.sendMu.Lock()
	r.mu.Lock()
	rec, send := r.joinLocked(id)
	rec.Interest++
	epoch := r.epoch
	r.mu.Unlock()
	if send {
		r.sendJoin(rec, epoch)
	}
	r.sendMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.sendMu.Lock()
			defer r.sendMu.Unlock()
			r.leave(id, rec)
		})
	}
}

// Channels returns a snapshot of every record in join order.
func (r *Registry) Channels() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}

// Joined returns the ids of every wanted channel in join order.
func (r *Registry) Joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Pending returns the queued join ids, including ones since left.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pending...)
}

// Close detaches the registry from the connection and waits for any
// replay in progress.
func (r *Registry) Close() {
	r.sub.Unsubscribe()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
}

// joinLocked returns the record for id, creating it if needed, and reports
// whether a join intent must be written now.
func (r *Registry) joinLocked(id string) (*Record, bool) {
	if rec, ok := r.records[id]; ok {
		return rec, false
	}

	rec := &Record{ID: id, Joined: true, PendingJoin: true}
	r.records[id] = rec
	r.order = append(r.order, id)
	metrics.ChannelsJoined.Set(float64(len(r.records)))

	if r.connected {
		return rec, true
	}
	r.pending = append(r.pending, id)
	r.logger.Debug("join queued", "conversation_id", id)
	return rec, false
}

// leave removes id. With owner set, only that record's interest is dropped
// and the record goes away once nobody holds it. Caller holds sendMu.
func (r *Registry) leave(id string, owner *Record) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || (owner != nil && rec != owner) {
		r.mu.Unlock()
		return
	}
	if owner != nil {
		rec.Interest--
		if rec.Interest > 0 || rec.Pinned {
			r.mu.Unlock()
			return
		}
	}

	delete(r.records, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	metrics.ChannelsJoined.Set(float64(len(r.records)))
	connected := r.connected
	r.mu.Unlock()

	if !connected {
		metrics.IntentsDropped.WithLabelValues(model.IntentConversationLeave).Inc()
		return
	}
	r.emit(model.IntentConversationLeave, id)
}

// sendJoin writes the join for rec, decided in epoch. Caller holds sendMu.
func (r *Registry) sendJoin(rec *Record, epoch uint64) {
	ok := r.emit(model.IntentConversationJoin, rec.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.records[rec.ID] != rec || r.epoch != epoch {
		// Left meanwhile, or a newer connection replays it.
		return
	}
	if ok {
		rec.PendingJoin = false
		return
	}
	r.queueLocked(rec)
}

// queueLocked puts rec back on the pending queue for the next connection.
func (r *Registry) queueLocked(rec *Record) {
	rec.PendingJoin = true
	if !r.inPending(rec.ID) {
		r.pending = append(r.pending, rec.ID)
	}
}

func (r *Registry) inPending(id string) bool {
	for _, v := range r.pending {
		if v == id {
			return true
		}
	}
	return false
}

func (r *Registry) emit(intent, id string) bool {
	if err := r.conn.Emit(intent, model.ConversationRef{ConversationID: id}); err != nil {
		metrics.IntentsDropped.WithLabelValues(intent).Inc()
		r.logger.Debug("intent not sent", "intent", intent, "conversation_id", id, "error", err)
		return false
	}
	return true
}

// onStateChange runs on the connection loop. It only records the new state
// and hands the replay to a goroutine.
func (r *Registry) onStateChange(c connection.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.To != connection.StateConnected {
		r.connected = false
		return
	}
	if r.closed {
		return
	}
	r.connected = true
	r.epoch++

	batch := r.replayOrderLocked()
	if len(batch) == 0 {
		return
	}
	r.wg.Add(1)
	go r.replay(r.epoch, batch)
}

// replayOrderLocked drains the pending queue, then lists every other wanted
// channel, so each record gets exactly one join per connection.
func (r *Registry) replayOrderLocked() []*Record {
	queue := r.pending
	r.pending = nil

	seen := make(map[string]bool, len(r.records))
	batch := make([]*Record, 0, len(r.records))
	for _, id := range append(queue, r.order...) {
		rec, ok := r.records[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		rec.PendingJoin = true
		batch = append(batch, rec)
	}
	return batch
}

func (r *Registry) replay(epoch uint64, batch []*Record) {
	defer r.wg.Done()

	sent := 0
	for _, rec := range batch {
		r.sendMu.Lock()
		r.mu.Lock()
		wanted := r.epoch == epoch && r.records[rec.ID] == rec
		current := wanted && r.connected
		if wanted && !current {
			r.queueLocked(rec)
		}
		r.mu.Unlock()
		if !current {
			r.sendMu.Unlock()
			continue
		}
		r.sendJoin(rec, epoch)
		r.sendMu.Unlock()
		sent++
	}

	if sent > 0 {
		r.logger.Info("channels replayed", "count", sent, "still_pending", len(r.Pending()))
	}
}
