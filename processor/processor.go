// Package processor turns log entries into upload requests. The set of processors is closed and
// fixed when the Registry is built.
package processor

import (
	"context"
	"fmt"
	"sort"

	"github.com/Netflix/devdiag/logservice"
)

// Outcome is what happened to a single entry
type Outcome int

const (
	// Uploaded means the entry was handed to the upload router
	Uploaded Outcome = iota
	// Skipped entries had nothing worth uploading
	Skipped
	// Failed entries could not be converted or enqueued
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Uploaded:
		return "uploaded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the per entry result of Process
type Result struct {
	Outcome Outcome
	Err     error
}

func failed(err error) Result {
	return Result{Outcome: Failed, Err: err}
}

// Processor converts entries carrying one of its tags
type Processor interface {
	Tags() []string
	Process(ctx context.Context, entry logservice.Entry) Result
}

// Registry maps tags to processors. It is read only once built.
type Registry struct {
	byTag map[string]Processor
	tags  []string
}

// NewRegistry builds the registry. Two processors claiming the same tag is a programming error.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{byTag: make(map[string]Processor)}
	for _, p := range processors {
		for _, tag := range p.Tags() {
			if _, ok := r.byTag[tag]; ok {
				panic(fmt.Sprintf("tag %q is claimed by more than one processor", tag))
			}
			r.byTag[tag] = p
			r.tags = append(r.tags, tag)
		}
	}
	sort.Strings(r.tags)
	return r
}

func (r *Registry) Lookup(tag string) (Processor, bool) {
	p, ok := r.byTag[tag]
	return p, ok
}

// Tags returns every registered tag, sorted
func (r *Registry) Tags() []string {
	return append([]string(nil), r.tags...)
}

func (r *Registry) Len() int {
	return len(r.tags)
}
