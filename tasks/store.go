package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/hourglass/clock"
	herrors "github.com/vinayprograms/hourglass/errors"
	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/state"
)

// DefaultKey is the backing-store key holding the task list.
const DefaultKey = "tasks"

// StoreConfig configures a Store.
type StoreConfig struct {
	// State is the backing store. Nil means storage is unavailable:
	// the store works in memory only.
	State state.StateStore

	// Key is where the list is persisted. Default "tasks".
	Key string

	// Clock supplies timestamps. Default clock.Real().
	Clock clock.Clock

	// Logger receives storage failures and mutations. Default logging.New().
	Logger *logging.Logger
}

// Store is the task list. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool

	state  state.StateStore
	key    string
	clock  clock.Clock
	logger *logging.Logger

	archiveSubs   registry[func(id string)]
	unarchiveSubs registry[func(id string)]
	changeSubs    registry[func([]Task)]

	unavailableOnce sync.Once
	stopWatch       context.CancelFunc
	watchDone       chan struct{}
}

// NewStore starts watching the key for writes from other views, then
// loads the persisted list. Writes landing between the two are picked
// up by the watcher.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	s := &Store{
		state:  cfg.State,
		key:    cfg.Key,
		clock:  cfg.Clock,
		logger: cfg.Logger.WithComponent("tasks"),
		tasks:  []Task{},
	}

	ch := s.openWatch()
	if list, err := s.load("init"); err == nil {
		s.tasks = list
	}
	if ch != nil {
		s.watchDone = make(chan struct{})
		go s.watchLoop(ch)
	}
	return s
}

// --- Mutations ---

// AddTask appends a new task and persists the list.
func (s *Store) AddTask(description string) Task {
	t := Task{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	s.tasks = append(cloneList(s.tasks), t)
	s.persistLocked()
	list := cloneList(s.tasks)
	s.mu.Unlock()

	s.logger.TaskMutation("add", t.ID)
	s.emitChange(list)
	return t.Clone()
}

// CompleteTask marks a task completed now.
func (s *Store) CompleteTask(id string) {
	now := s.now()
	s.update("complete", id, func(t *Task) { t.CompletedAt = stamp(now) })
}

// UncompleteTask clears a task's completion.
func (s *Store) UncompleteTask(id string) {
	s.update("uncomplete", id, func(t *Task) { t.CompletedAt = nil })
}

// ArchiveTask marks a task archived now, re-stamping an archived one.
// Archive subscribers run after the list is persisted. An unknown id
// changes nothing and notifies no one.
func (s *Store) ArchiveTask(id string) {
	now := s.now()
	if s.update("archive", id, func(t *Task) { t.ArchivedAt = stamp(now) }) {
		s.emit("archive", id, &s.archiveSubs)
	}
}

// UnarchiveTask clears a task's archive time. Unarchive subscribers run
// after the list is persisted whenever the task exists.
func (s *Store) UnarchiveTask(id string) {
	if s.update("unarchive", id, func(t *Task) { t.ArchivedAt = nil }) {
		s.emit("unarchive", id, &s.unarchiveSubs)
	}
}

// UpdateTask replaces a task's description.
func (s *Store) UpdateTask(id, description string) {
	trimmed := strings.TrimSpace(description)
	s.update("update", id, func(t *Task) { t.Description = trimmed })
}

// DeleteTask removes a task permanently.
func (s *Store) DeleteTask(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Debug("task not found", map[string]interface{}{"op": "delete", "task_id": id})
		return
	}
	next := make([]Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:idx]...)
	next = append(next, s.tasks[idx+1:]...)
	s.tasks = next
	s.persistLocked()
	list := cloneList(s.tasks)
	s.mu.Unlock()

	s.logger.TaskMutation("delete", id)
	s.emitChange(list)
}

// update replaces the task with an updated copy and persists. It
// reports whether the task was found.
func (s *Store) update(op, id string, fn func(*Task)) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Debug("task not found", map[string]interface{}{"op": op, "task_id": id})
		return false
	}

	updated := s.tasks[idx].Clone()
	fn(&updated)

	next := cloneList(s.tasks)
	next[idx] = updated
	s.tasks = next
	s.persistLocked()
	list := cloneList(s.tasks)
	s.mu.Unlock()

	s.logger.TaskMutation(op, id)
	s.emitChange(list)
	return true
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) now() int64 {
	return s.clock.Now().UTC().Unix()
}

// --- Views ---

// Tasks returns every task in insertion order.
func (s *Store) Tasks() []Task {
	return s.filter(func(Task) bool { return true })
}

// CompletedTasks returns tasks with a completion time.
func (s *Store) CompletedTasks() []Task {
	return s.filter(Task.Completed)
}

// IncompleteTasks returns tasks without a completion time.
func (s *Store) IncompleteTasks() []Task {
	return s.filter(func(t Task) bool { return !t.Completed() })
}

// ArchivedTasks returns tasks with an archive time.
func (s *Store) ArchivedTasks() []Task {
	return s.filter(Task.Archived)
}

// ActiveTasks returns tasks without an archive time.
func (s *Store) ActiveTasks() []Task {
	return s.filter(func(t Task) bool { return !t.Archived() })
}

// Get returns the task with id.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.tasks[idx].Clone(), true
	}
	return Task{}, false
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) filter(keep func(Task) bool) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func cloneList(list []Task) []Task {
	out := make([]Task, len(list))
	for i, t := range list {
		out[i] = t.Clone()
	}
	return out
}

// --- Subscriptions ---

// OnArchive registers fn to be called with the id of each task that
// becomes archived. The returned function removes this registration.
func (s *Store) OnArchive(fn func(id string)) func() {
	return s.archiveSubs.add(fn)
}

// OnUnarchive registers fn to be called with the id of each task that
// stops being archived.
func (s *Store) OnUnarchive(fn func(id string)) func() {
	return s.unarchiveSubs.add(fn)
}

// OnChange registers fn to receive the full list after every mutation
// and every reload.
func (s *Store) OnChange(fn func([]Task)) func() {
	return s.changeSubs.add(fn)
}

func (s *Store) emit(event, id string, subs *registry[func(id string)]) {
	fns := subs.snapshot()
	s.logger.Notify(event, id, len(fns))
	for _, fn := range fns {
		fn(id)
	}
}

func (s *Store) emitChange(list []Task) {
	for _, fn := range s.changeSubs.snapshot() {
		fn(cloneList(list))
	}
}

// --- Persistence ---

// persistLocked writes the whole list. Failures are logged and the
// in-memory change is kept. Caller holds s.mu.
func (s *Store) persistLocked() {
	if s.state == nil || s.closed {
		s.logUnavailable("save")
		return
	}
	data, err := encodeTasks(s.tasks)
	if err != nil {
		s.logger.StorageFailure("save", herrors.Wrap(err, "encode task list", herrors.WithKey(s.key)).Fields())
		return
	}
	if err := s.state.Put(s.key, data); err != nil {
		s.logger.StorageFailure("save", s.classify(err, "write task list").Fields())
	}
}

// load reads and validates the persisted list. A missing key is an
// empty list; an unreadable or non-array value is an error.
func (s *Store) load(source string) ([]Task, error) {
	if s.state == nil {
		s.logUnavailable("load")
		return nil, herrors.Unavailable("no backing store", herrors.WithKey(s.key))
	}

	data, err := s.state.Get(s.key)
	if errors.Is(err, state.ErrNotFound) {
		return []Task{}, nil
	}
	if err != nil {
		coded := s.classify(err, "read task list")
		s.logger.StorageFailure("load", coded.Fields())
		return nil, coded
	}
	return s.decode(source, data)
}

func (s *Store) decode(source string, data []byte) ([]Task, error) {
	list, dropped, err := decodeTasks(data)
	if err != nil {
		coded := herrors.Corruption("persisted task list is not an array",
			herrors.WithKey(s.key), herrors.WithCause(err))
		s.logger.StorageFailure(source, coded.Fields())
		return nil, coded
	}
	s.logger.Reload(source, len(list), dropped)
	return list, nil
}

// classify maps backing-store sentinels onto error codes.
func (s *Store) classify(err error, msg string) *herrors.Error {
	switch {
	case errors.Is(err, state.ErrClosed), errors.Is(err, state.ErrUnavailable):
		return herrors.WrapWithCode(err, herrors.ErrCodeUnavailable, msg, herrors.WithKey(s.key))
	case errors.Is(err, state.ErrInvalidKey):
		return herrors.WrapWithCode(err, herrors.ErrCodeInvalidInput, msg, herrors.WithKey(s.key))
	default:
		return herrors.Wrap(err, msg, herrors.WithKey(s.key))
	}
}

func (s *Store) logUnavailable(op string) {
	s.unavailableOnce.Do(func() {
		s.logger.StorageFailure(op, herrors.Unavailable("no backing store; changes are kept in memory only",
			herrors.WithKey(s.key)).Fields())
	})
}

// Reload re-reads the persisted list and replaces the in-memory list.
// On a read or parse failure the current list is kept.
func (s *Store) Reload() {
	list, err := s.load("reload")
	if err != nil {
		return
	}
	s.replace(list)
}

func (s *Store) replace(list []Task) {
	s.mu.Lock()
	s.tasks = list
	snapshot := cloneList(list)
	s.mu.Unlock()
	s.emitChange(snapshot)
}

// --- Cross-view sync ---

// openWatch subscribes to the key. Notifications queue on the returned
// channel until watchLoop starts.
func (s *Store) openWatch() <-chan *state.KeyValue {
	if s.state == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.state.Watch(ctx, s.key)
	if err != nil {
		cancel()
		s.logger.StorageFailure("watch", s.classify(err, "watch task list").Fields())
		return nil
	}
	s.stopWatch = cancel
	return ch
}

// watchLoop treats each remote notification as a signal. Notifications
// queued behind a slow subscriber collapse into one re-read, and the
// re-read always sees the newest value.
func (s *Store) watchLoop(ch <-chan *state.KeyValue) {
	defer close(s.watchDone)
	for kv := range ch {
		pending := s.remoteChange(kv)
		open := true
	drain:
		for open {
			select {
			case next, ok := <-ch:
				if !ok {
					open = false
					break drain
				}
				pending = pending || s.remoteChange(next)
			default:
				break drain
			}
		}
		if pending {
			s.syncRemote()
		}
		if !open {
			return
		}
	}
}

// remoteChange reports whether kv is a write to our key by another view.
func (s *Store) remoteChange(kv *state.KeyValue) bool {
	return kv.Key == s.key && kv.Operation == state.OpPut && kv.Origin != s.state.ID()
}

// syncRemote re-reads the key and replaces the list unless the newest
// value is our own write. A corrupt value keeps the current list. Read
// and swap share s.mu with persistLocked.
func (s *Store) syncRemote() {
	s.mu.Lock()
	kv, err := s.state.GetKeyValue(s.key)
	if err != nil {
		s.mu.Unlock()
		if !errors.Is(err, state.ErrNotFound) {
			s.logger.StorageFailure("watch", s.classify(err, "read task list").Fields())
		}
		return
	}
	if kv.Origin == s.state.ID() {
		s.mu.Unlock()
		return
	}
	list, err := s.decode("watch", kv.Value)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.tasks = list
	snapshot := cloneList(list)
	s.mu.Unlock()

	s.emitChange(snapshot)
}

// Close stops the cross-view watcher and drops all subscribers. The
// backing store is not closed. Later mutations stay in memory.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}
	s.archiveSubs.clear()
	s.unarchiveSubs.clear()
	s.changeSubs.clear()
	return nil
}
