package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/flowbase/model"
)

// snapshot is an immutable collection of loaded workflows indexed by ID.
type snapshot struct {
	files     []model.DefinitionFile
	workflows map[string]model.WorkflowDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definition files.
func NewRegistry(files []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given files. A workflow ID seen twice keeps the later definition.
func (r *Registry) Replace(files []model.DefinitionFile) {
	s := &snapshot{
		files:     files,
		workflows: make(map[string]model.WorkflowDefinition),
	}

	checksumParts := make([]string, 0, len(files))
	for _, f := range files {
		checksumParts = append(checksumParts, f.Checksum)
		for _, w := range f.Workflows {
			s.workflows[w.ID] = w
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given ID.
func (r *Registry) GetWorkflow(workflowID string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[workflowID]
	return w, ok
}

// AllWorkflows returns every workflow ordered by ID.
func (r *Registry) AllWorkflows() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, w := range s.workflows {
		defs = append(defs, w)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Files returns the definition files of the current snapshot.
func (r *Registry) Files() []model.DefinitionFile {
	return r.current().files
}

// Count returns the number of registered workflows.
func (r *Registry) Count() int {
	return len(r.current().workflows)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
