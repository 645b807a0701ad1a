// Package statecache is a memoizing façade over the remote provisioning
// API.
//
// It keeps one record per remote stack with independent freshness flags
// for details, resources, and template, plus a global freshness flag for
// the stack listing. Reads go to the remote system only on a cache miss
// or after invalidation; every mutating call invalidates the affected
// record and the listing before the call is issued, so cache correctness
// never depends on the mutation succeeding.
//
// All access is serialized behind one mutex; the concurrent create mode
// shares a single cache across goroutines.
package statecache

import (
	"context"
	"sync"

	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/provider"
)

// StatusSummary is the listing-level view of one remote stack.
//
// A stack observed as logically deleted keeps its last non-deleted
// status label so callers can distinguish "existed then deleted" from
// "never existed".
type StatusSummary struct {
	Status              string
	LastKnownGoodStatus string
	Deleted             bool
}

// record caches everything known about one remote stack, each piece with
// its own freshness flag.
type record struct {
	summary StatusSummary

	details      *provider.Details
	detailsFresh bool

	resources      []provider.Resource
	resourcesFresh bool

	template      string
	templateFresh bool
}

// Cache is the read-through cache of remote stack state.
type Cache struct {
	mu             sync.Mutex
	provider       provider.StackProvider
	records        map[string]*record
	summariesFresh bool
}

// New creates an empty cache over the given provider.
func New(p provider.StackProvider) *Cache {
	return &Cache{
		provider: p,
		records:  make(map[string]*record),
	}
}

// ListExisting returns the status summary of every known remote stack,
// re-fetching the full listing only when it is stale.
func (c *Cache) ListExisting(ctx context.Context) (map[string]StatusSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshSummariesLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]StatusSummary, len(c.records))
	for id, rec := range c.records {
		out[id] = rec.summary
	}
	return out, nil
}

// Exists reports whether the stack is present remotely and not in a
// terminal-deleted state. Refreshes the listing if stale.
func (c *Cache) Exists(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsLocked(ctx, id)
}

func (c *Cache) existsLocked(ctx context.Context, id string) (bool, error) {
	if err := c.refreshSummariesLocked(ctx); err != nil {
		return false, err
	}
	rec, ok := c.records[id]
	return ok && !rec.summary.Deleted, nil
}

// Describe returns the detail-level view of a stack, fetching from the
// provider only when the cached details are stale. When includeResources
// is set and the resource list is stale it is fetched and merged
// separately; detail and resource freshness are independent so a
// details-only caller never pays the resource-listing cost.
//
// Returns a STACK_NOT_FOUND error if the stack does not exist remotely.
func (c *Cache) Describe(ctx context.Context, id string, includeResources bool) (*provider.Details, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.existsLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New(errors.ErrCodeStackNotFound, "stack %s does not exist", id)
	}
	rec := c.records[id]
	if !rec.detailsFresh {
		details, err := c.provider.DescribeStack(ctx, id)
		if err != nil {
			return nil, err
		}
		rec.details = details
		rec.detailsFresh = true
	}
	if includeResources && !rec.resourcesFresh {
		resources, err := c.provider.ListStackResources(ctx, id)
		if err != nil {
			return nil, err
		}
		rec.resources = resources
		rec.resourcesFresh = true
	}
	details := *rec.details
	if includeResources {
		details.Resources = rec.resources
	}
	return &details, nil
}

// GetTemplate returns the remote template body of a stack, fetched only
// when the cached copy is stale.
func (c *Cache) GetTemplate(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.existsLocked(ctx, id)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.New(errors.ErrCodeStackNotFound, "stack %s does not exist", id)
	}
	rec := c.records[id]
	if !rec.templateFresh {
		body, err := c.provider.GetTemplate(ctx, id)
		if err != nil {
			return "", err
		}
		rec.template = body
		rec.templateFresh = true
	}
	return rec.template, nil
}

// Invalidate marks all cached data of one stack stale, along with the
// global listing: creation or deletion of one stack is observable when
// listing all stacks.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(id)
}

// InvalidateAll marks every cached record and the listing stale. Used
// by polling loops that must observe remote progress each iteration.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summariesFresh = false
	for _, rec := range c.records {
		rec.detailsFresh = false
		rec.resourcesFresh = false
		rec.templateFresh = false
	}
}

func (c *Cache) invalidateLocked(id string) {
	c.summariesFresh = false
	if rec, ok := c.records[id]; ok {
		rec.detailsFresh = false
		rec.resourcesFresh = false
		rec.templateFresh = false
	}
}

// CreateStack invalidates the target's cached state and then issues the
// creation. Invalidation happens before the call: a failed mutation can
// still change remote state.
func (c *Cache) CreateStack(ctx context.Context, in provider.CreateInput) error {
	c.mu.Lock()
	c.invalidateLocked(in.Name)
	c.mu.Unlock()
	return c.provider.CreateStack(ctx, in)
}

// UpdateStack invalidates the target's cached state and then issues the
// update. A no-op refusal from the provider is returned unwrapped so
// callers can branch on provider.IsNoOpUpdate.
func (c *Cache) UpdateStack(ctx context.Context, in provider.UpdateInput) error {
	c.mu.Lock()
	c.invalidateLocked(in.Name)
	c.mu.Unlock()
	return c.provider.UpdateStack(ctx, in)
}

// DeleteStack invalidates the target's cached state and then issues the
// deletion.
func (c *Cache) DeleteStack(ctx context.Context, id string) error {
	c.mu.Lock()
	c.invalidateLocked(id)
	c.mu.Unlock()
	return c.provider.DeleteStack(ctx, id)
}

// refreshSummariesLocked re-fetches the full stack listing if stale,
// replacing the summary cache wholesale. Records for stacks that have
// disappeared from the listing, or now report a deleted status, are kept
// with their last non-deleted status label.
func (c *Cache) refreshSummariesLocked(ctx context.Context) error {
	if c.summariesFresh {
		return nil
	}
	summaries, err := c.provider.ListStacks(ctx)
	if err != nil {
		return err
	}
	records := make(map[string]*record, len(summaries))
	for _, s := range summaries {
		rec, ok := c.records[s.Name]
		if !ok {
			rec = &record{}
		}
		rec.summary.Status = s.Status
		if provider.Deleted(s.Status) {
			rec.summary.Deleted = true
		} else {
			rec.summary.Deleted = false
			rec.summary.LastKnownGoodStatus = s.Status
		}
		records[s.Name] = rec
	}
	for id, rec := range c.records {
		if _, ok := records[id]; ok {
			continue
		}
		if rec.summary.LastKnownGoodStatus == "" {
			continue
		}
		rec.summary.Status = provider.StatusGone
		rec.summary.Deleted = true
		records[id] = rec
	}
	c.records = records
	c.summariesFresh = true
	return nil
}
