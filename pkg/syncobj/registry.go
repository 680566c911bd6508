package syncobj

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// Registry tracks sync objects per group. One lock guards all groups.
type Registry struct {
	mu     sync.Mutex
	groups [groupCount]map[string]Object
	logger logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger logging.Logger) *Registry {
	r := &Registry{
		logger: logging.OrNop(logger).With(logging.Component("syncobj")),
	}
	for i := range r.groups {
		r.groups[i] = make(map[string]Object)
	}
	return r
}

// Register adds obj to group. An id may appear once per group.
func (r *Registry) Register(obj Object, group Group) error {
	if obj == nil {
		return ErrNilObject
	}
	if !group.Valid() {
		return ErrUnknownGroup
	}
	id := obj.GetID()
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[group][id]; exists {
		return fmt.Errorf("%w: %q in %s", ErrDuplicateID, id, group)
	}
	r.groups[group][id] = obj
	return nil
}

// Unregister removes obj from every group it is registered in.
// It reports whether anything was removed.
func (r *Registry) Unregister(obj Object) bool {
	if obj == nil {
		return false
	}
	id := obj.GetID()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for _, objects := range r.groups {
		if cur, ok := objects[id]; ok && cur == obj {
			delete(objects, id)
			removed = true
		}
	}
	return removed
}

// Count returns the number of objects registered in group
func (r *Registry) Count(group Group) int {
	if !group.Valid() {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups[group])
}

// ExportSyncData serializes every active dirty object of group and marks it
// clean. The result is keyed by object id, so iteration order is irrelevant.
func (r *Registry) ExportSyncData(group Group) map[string]string {
	out := make(map[string]string)
	if !group.Valid() {
		return out
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, obj := range r.groups[group] {
		if !obj.IsActive() || !obj.IsDirty() {
			continue
		}
		out[id] = obj.SerializeToString()
		obj.ClearDirty()
	}
	return out
}

// ImportSyncData applies data to the active objects of group. Objects whose
// id is absent from data are left untouched. A failed deserialize is logged
// and does not stop the rest of the batch.
func (r *Registry) ImportSyncData(group Group, data map[string]string) ImportReport {
	var report ImportReport
	if !group.Valid() || len(data) == 0 {
		return report
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	objects := r.groups[group]
	for id, value := range data {
		obj, ok := objects[id]
		if !ok || !obj.IsActive() {
			report.Unknown++
			continue
		}
		if !obj.DeserializeFromString(value) {
			report.Failed = append(report.Failed, id)
			r.logger.Warn("Failed to deserialize sync object",
				logging.Group(group.String()),
				logging.String("object_id", id))
			continue
		}
		report.Applied++
	}
	return report
}
