package registry

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/foundry/internal/vkutil"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// DependencyStillAliveError is the error returned from Registry.Destroy when another
// live handle lists the destroyed handle as a dependency
var DependencyStillAliveError error = errors.New("handle still has live dependents")

// AlreadyDestroyedError is the error returned from Registry.Destroy when the handle's
// native destruction entry point has already run
var AlreadyDestroyedError error = errors.New("handle has already been destroyed")

// UnknownHandleError is the error returned when an ID was never produced by
// Registry.Register
var UnknownHandleError error = errors.New("handle was never registered")

// ID is an opaque identifier referencing one registered native handle. IDs are
// handed out in creation order and are never reused.
type ID uint64

// Destructor runs the native destruction entry point for a single handle. The
// Registry guarantees it is invoked at most once, and never while a live
// dependent remains.
type Destructor func()

type entry struct {
	id         ID
	kind       Kind
	name       string
	destructor Destructor

	// IDs this handle depends on- registered at creation or added later
	// through AddDependency
	dependsOn []ID
	// live handles that named this handle as a dependency
	dependents map[ID]struct{}

	destroyed bool
}

// Registry is the sole owner of every native handle the library creates. Higher
// components hold IDs and request destruction here, and the Registry enforces
// dependency-respecting teardown order.
//
// A Registry created with threadSafe=false must be confined to a single
// goroutine: concurrent create/destroy on overlapping dependency sets is unsafe.
type Registry struct {
	logger *slog.Logger
	mutex  vkutil.OptionalRWMutex

	nextID    ID
	entries   *swiss.Map[ID, *entry]
	liveCount int
}

// New creates an empty Registry. When threadSafe is true all operations are
// serialized by an internal mutex.
func New(logger *slog.Logger, threadSafe bool) *Registry {
	return &Registry{
		logger: logger,
		mutex: vkutil.OptionalRWMutex{
			UseMutex: threadSafe,
		},
		entries: swiss.NewMap[ID, *entry](64),
	}
}

// Register records a live native handle together with the IDs it depends on and
// the destructor that releases it. Every dependency must itself be live.
func (r *Registry) Register(kind Kind, name string, destructor Destructor, dependsOn ...ID) (ID, error) {
	r.logger.Debug("Registry::Register")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	depEntries := make([]*entry, len(dependsOn))
	for i, dep := range dependsOn {
		depEntry, ok := r.entries.Get(dep)
		if !ok {
			return 0, errors.Wrapf(UnknownHandleError, "dependency %d of %s %s", dep, kind, name)
		}
		if depEntry.destroyed {
			return 0, errors.Wrapf(AlreadyDestroyedError, "dependency %d of %s %s", dep, kind, name)
		}
		depEntries[i] = depEntry
	}

	r.nextID++
	id := r.nextID

	newEntry := &entry{
		id:         id,
		kind:       kind,
		name:       name,
		destructor: destructor,
		dependsOn:  dependsOn,
		dependents: map[ID]struct{}{},
	}

	for _, depEntry := range depEntries {
		depEntry.dependents[id] = struct{}{}
	}

	r.entries.Put(id, newEntry)
	r.liveCount++

	return id, nil
}

// AddDependency records that dependent requires dependency to stay alive, as
// if the edge had been passed to Register. Both handles must be live. Adding
// an edge that already exists is a no-op.
func (r *Registry) AddDependency(dependent, dependency ID) error {
	r.logger.Debug("Registry::AddDependency")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if dependent == dependency {
		return errors.Newf("handle %d cannot depend on itself", dependent)
	}

	dependentEntry, ok := r.entries.Get(dependent)
	if !ok {
		return errors.Wrapf(UnknownHandleError, "handle %d", dependent)
	}
	if dependentEntry.destroyed {
		return errors.Wrapf(AlreadyDestroyedError, "%s %s (handle %d)", dependentEntry.kind, dependentEntry.name, dependent)
	}

	dependencyEntry, ok := r.entries.Get(dependency)
	if !ok {
		return errors.Wrapf(UnknownHandleError, "handle %d", dependency)
	}
	if dependencyEntry.destroyed {
		return errors.Wrapf(AlreadyDestroyedError, "%s %s (handle %d)", dependencyEntry.kind, dependencyEntry.name, dependency)
	}

	if slices.Contains(dependentEntry.dependsOn, dependency) {
		return nil
	}

	dependentEntry.dependsOn = append(dependentEntry.dependsOn, dependency)
	dependencyEntry.dependents[dependent] = struct{}{}

	return nil
}

// Destroy runs the handle's destructor and retires its ID. It fails with
// DependencyStillAliveError while any live handle depends on id, and with
// AlreadyDestroyedError if the destructor already ran- the native entry point
// is never invoked twice.
func (r *Registry) Destroy(id ID) error {
	r.logger.Debug("Registry::Destroy")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.destroyOne(id)
}

// DestroyCascade destroys every live handle that transitively depends on id,
// dependents before dependencies, and then destroys id itself.
func (r *Registry) DestroyCascade(id ID) error {
	r.logger.Debug("Registry::DestroyCascade")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	target, ok := r.entries.Get(id)
	if !ok {
		return errors.Wrapf(UnknownHandleError, "handle %d", id)
	}
	if target.destroyed {
		return errors.Wrapf(AlreadyDestroyedError, "%s %s (handle %d)", target.kind, target.name, id)
	}

	doomed := r.collectDependents(target, nil)
	doomed = append(doomed, id)

	return r.destroyInOrder(doomed)
}

// DestroyAll cascades over the full live set, retiring every handle in reverse
// creation order. It is intended for shutdown and always succeeds on a
// consistent table.
func (r *Registry) DestroyAll() error {
	r.logger.Debug("Registry::DestroyAll")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	live := make([]ID, 0, r.liveCount)
	r.entries.Iter(func(id ID, e *entry) bool {
		if !e.destroyed {
			live = append(live, id)
		}
		return false
	})

	return r.destroyInOrder(live)
}

// Live reports whether id references a registered, not-yet-destroyed handle.
func (r *Registry) Live(id ID) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, ok := r.entries.Get(id)
	return ok && !e.destroyed
}

// LiveCount returns the number of registered handles that have not been destroyed.
func (r *Registry) LiveCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.liveCount
}

// Dependents returns the IDs of live handles that directly depend on id, in
// creation order.
func (r *Registry) Dependents(id ID) []ID {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, ok := r.entries.Get(id)
	if !ok {
		return nil
	}

	dependents := make([]ID, 0, len(e.dependents))
	for dependentID := range e.dependents {
		dependents = append(dependents, dependentID)
	}
	slices.Sort(dependents)
	return dependents
}

// destroyInOrder retires every handle in ids, always destroying dependents
// before their dependencies. Within a pass, newer handles go first, so when no
// AddDependency edges point at later handles this is exactly reverse creation
// order. The registry mutex must be held.
func (r *Registry) destroyInOrder(ids []ID) error {
	slices.SortFunc(ids, func(a, b ID) bool { return a > b })

	for len(ids) > 0 {
		blocked := make([]ID, 0, len(ids))
		progressed := false

		for _, id := range ids {
			e, ok := r.entries.Get(id)
			if !ok || e.destroyed {
				continue
			}
			if len(e.dependents) > 0 {
				blocked = append(blocked, id)
				continue
			}

			err := r.destroyOne(id)
			if err != nil {
				return err
			}
			progressed = true
		}

		if !progressed {
			if len(blocked) == 0 {
				return nil
			}
			// A live dependent outside the doomed set is blocking teardown-
			// surface the failure for the first blocked handle.
			return r.destroyOne(blocked[0])
		}

		ids = blocked
	}

	return nil
}

// destroyOne retires a single handle. The registry mutex must be held.
func (r *Registry) destroyOne(id ID) error {
	e, ok := r.entries.Get(id)
	if !ok {
		return errors.Wrapf(UnknownHandleError, "handle %d", id)
	}
	if e.destroyed {
		return errors.Wrapf(AlreadyDestroyedError, "%s %s (handle %d)", e.kind, e.name, id)
	}
	if len(e.dependents) > 0 {
		return errors.Wrapf(DependencyStillAliveError, "%s %s (handle %d) has %d live dependents", e.kind, e.name, id, len(e.dependents))
	}

	if e.destructor != nil {
		e.destructor()
	}
	e.destroyed = true
	e.destructor = nil
	r.liveCount--

	for _, depID := range e.dependsOn {
		depEntry, ok := r.entries.Get(depID)
		if ok {
			delete(depEntry.dependents, id)
		}
	}

	return nil
}

// collectDependents gathers the transitive live dependents of e. The registry
// mutex must be held.
func (r *Registry) collectDependents(e *entry, out []ID) []ID {
	for dependentID := range e.dependents {
		dependentEntry, ok := r.entries.Get(dependentID)
		if !ok || dependentEntry.destroyed {
			continue
		}
		if slices.Contains(out, dependentID) {
			continue
		}
		out = append(out, dependentID)
		out = r.collectDependents(dependentEntry, out)
	}

	return out
}
