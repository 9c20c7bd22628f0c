package replicator

import (
	"github.com/zhangyunhao116/skipmap"
)

// Registry is the name -> replicated database map. It is the only strong
// lifetime reference to each database; readers obtain shared handles whose
// lifetime the host tracks with per-database reference counts.
type Registry struct {
	dbs *skipmap.StringMap[*ReplicatedDB]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{dbs: skipmap.NewString[*ReplicatedDB]()}
}

// Add atomically inserts db under its name. Returns false when the name is
// taken; the incumbent is never overwritten.
func (r *Registry) Add(db *ReplicatedDB) bool {
	_, loaded := r.dbs.LoadOrStore(db.Name(), db)
	return !loaded
}

// Remove atomically removes the named database and returns it.
func (r *Registry) Remove(name string) (*ReplicatedDB, bool) {
	return r.dbs.LoadAndDelete(name)
}

// Get returns the named database without extending its lifetime; callers
// that hold it across suspension points must acquire a reference.
func (r *Registry) Get(name string) (*ReplicatedDB, bool) {
	return r.dbs.Load(name)
}

// Range iterates the registered databases until f returns false.
func (r *Registry) Range(f func(db *ReplicatedDB) bool) {
	r.dbs.Range(func(_ string, db *ReplicatedDB) bool {
		return f(db)
	})
}

// Len returns the number of registered databases.
func (r *Registry) Len() int {
	return r.dbs.Len()
}
