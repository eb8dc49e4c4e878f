package reactor

import (
	"sync"

	"github.com/thorsanvil/nisse/task"
)

// Key is the opaque descriptor id the Store is keyed by (spec §3).
type Key int32

// record is the tagged-union member kept per descriptor. It mirrors
// _examples/original_source/NisseServer/Store.h's StoreData variant
// (ServerData / StreamData / OwnedFD / SharedFD / TimerData), translated
// from a C++ std::variant into a Go interface with one concrete type per
// case, switched on with a type switch wherever the reactor dispatches an
// event (see reactor.go's handleEvent).
type record interface {
	key() Key
}

// Listener owns the accepting socket and its accept task. OnAccept builds
// the per-connection task body for each raw fd accept4 hands back. self
// resolves to the new Connection's own *task.Task once it exists; callers
// needing it inside the task body (e.g. to register an owned auxiliary
// descriptor) must call self() lazily, not eagerly at body-construction
// time, since the Task doesn't exist until after OnAccept returns.
type Listener struct {
	FD       Key
	Task     *task.Task
	OnAccept func(fd int32, self func() *task.Task) task.Body
}

func (l *Listener) key() Key { return l.FD }

// Connection owns one accepted byte-level socket and its task.
type Connection struct {
	FD   Key
	Task *task.Task
}

func (c *Connection) key() Key { return c.FD }

// OwnedAux is a subordinate descriptor (e.g. an upstream socket a handler
// opened) whose readiness must suspend the owning connection's task.
type OwnedAux struct {
	FD    Key
	Owner *task.Task
}

func (o *OwnedAux) key() Key { return o.FD }

// SharedAux is a descriptor shared across connections, with FIFO
// read/write waiter queues (spec §3, §5 ordering guarantees).
type SharedAux struct {
	FD           Key
	ReadWaiters  []*task.Task
	WriteWaiters []*task.Task
}

func (s *SharedAux) key() Key { return s.FD }

// Timer is a one-shot scheduled callback; removed automatically once fired.
type Timer struct {
	ID       Key
	Callback func(Key)
}

func (t *Timer) key() Key { return t.ID }

// StateUpdate is enqueued by any thread and applied only by the reactor
// thread during Store.Drain, per spec §3's core invariant: "Only the
// reactor thread mutates the Store; all other threads enqueue update
// requests".
type StateUpdate interface {
	apply(s *Store)
}

type CreateListener struct {
	Record *Listener
}

func (u CreateListener) apply(s *Store) { s.insert(u.Record) }

type CreateConnection struct {
	Record *Connection
}

func (u CreateConnection) apply(s *Store) {
	s.insert(u.Record)
	s.incActive()
}

type CreateOwnedAux struct {
	Record *OwnedAux
}

func (u CreateOwnedAux) apply(s *Store) { s.insert(u.Record) }

type CreateSharedAux struct {
	Record *SharedAux
}

func (u CreateSharedAux) apply(s *Store) { s.insert(u.Record) }

type CreateTimer struct {
	Record *Timer
}

func (u CreateTimer) apply(s *Store) { s.insert(u.Record) }

// Remove schedules a record for teardown. It is the only way a
// Connection/Listener/OwnedAux/SharedAux/Timer ever leaves the Store,
// which is what lets destruction be centralized on the reactor thread
// (spec §9 "Destructor races").
type Remove struct {
	FD Key
}

func (u Remove) apply(s *Store) {
	if _, ok := s.records[u.FD]; ok {
		if _, wasConn := s.records[u.FD].(*Connection); wasConn {
			s.decActive()
		}
		delete(s.records, u.FD)
	}
}

// ExternallyClosed marks a descriptor observed closed by the peer (a
// zero-length read); the reactor translates it into task termination.
type ExternallyClosed struct {
	FD Key
}

func (u ExternallyClosed) apply(s *Store) {
	Remove{FD: u.FD}.apply(s)
}

// RestoreRead/RestoreWrite are emitted when a yielding task wants to be
// rewoken on read or write readiness respectively; the reactor re-arms the
// backend registration for FD accordingly during Drain.
type RestoreRead struct {
	FD Key
}

func (u RestoreRead) apply(*Store) {}

type RestoreWrite struct {
	FD Key
}

func (u RestoreWrite) apply(*Store) {}

// Store is the process-wide registry of live descriptors and their
// records, grounded on
// _examples/original_source/NisseServer/Store.h. Mutation is centralized
// on the reactor thread: other goroutines call Enqueue; the reactor calls
// Drain at the well-defined points described in spec §4.1.
type Store struct {
	mu      sync.Mutex
	pending []StateUpdate

	records map[Key]record
	active  int64 // open_connections, per spec §3

	metrics *storeMetrics
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[Key]record),
		metrics: newStoreMetrics(),
	}
}

// Enqueue appends update to the pending queue. Safe from any goroutine.
func (s *Store) Enqueue(update StateUpdate) {
	s.mu.Lock()
	s.pending = append(s.pending, update)
	s.mu.Unlock()
	s.metrics.pendingGauge.Inc()
}

// Drain applies every pending update, in enqueue order, to the live record
// table. Must only be called from the reactor thread.
func (s *Store) Drain() []StateUpdate {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, u := range batch {
		u.apply(s)
	}
	s.metrics.pendingGauge.Sub(float64(len(batch)))
	return batch
}

func (s *Store) insert(r record) {
	s.records[r.key()] = r
}

func (s *Store) incActive() {
	s.active++
	s.metrics.openConnections.Set(float64(s.active))
}

func (s *Store) decActive() {
	s.active--
	s.metrics.openConnections.Set(float64(s.active))
}

// Get returns the live record for key, if any. Reactor-thread only.
func (s *Store) Get(key Key) (record, bool) {
	r, ok := s.records[key]
	return r, ok
}

// OpenConnections returns the number of live Connection records.
func (s *Store) OpenConnections() int {
	return int(s.active)
}
