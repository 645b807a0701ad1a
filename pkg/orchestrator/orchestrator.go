// Package orchestrator drives the lifecycle of a whole deployment:
// create, check, update, delete, and watch over a set of
// interdependent stacks, ordered by their dependency graph.
//
// All remote reads go through the state cache; all waiting is
// fixed-interval polling. Nothing in this package terminates the
// process - fatal conditions are returned as coded errors and the CLI
// boundary decides the exit code.
package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/tobyh/cirrus/pkg/config"
	"github.com/tobyh/cirrus/pkg/depgraph"
	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/lookup"
	"github.com/tobyh/cirrus/pkg/provider"
	"github.com/tobyh/cirrus/pkg/stack"
	"github.com/tobyh/cirrus/pkg/statecache"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPausePeriod  = 2 * time.Second
)

// Options tunes an Orchestrator. The zero value is usable: silent
// logging, default polling cadence, and a Confirm that declines every
// deletion.
type Options struct {
	Logger *log.Logger

	// PollInterval is the sleep between status polls while watching an
	// operation; PausePeriod is the pause after each stack in an update
	// run, to stay under provider rate limits.
	PollInterval time.Duration
	PausePeriod  time.Duration

	// Confirm decides whether a stack may be deleted, given its logical
	// and remote names. Nil declines everything.
	Confirm func(name, id string) bool

	// PrintEvent renders one stack event while watching. Nil logs the
	// event instead.
	PrintEvent func(id string, e provider.Event)

	// Lookup resolves external parameter references for stacks that
	// declare them.
	Lookup lookup.Resolver
}

// Orchestrator executes lifecycle operations over one deployment.
type Orchestrator struct {
	deployment *config.Deployment
	provider   provider.StackProvider
	cache      *statecache.Cache
	graph      *depgraph.Graph
	stacks     []*stack.Stack // dependency order
	byID       map[string]*stack.Stack
	logger     *log.Logger
	opts       Options
}

// New builds the dependency graph from the deployment's stacks and
// validates it. Fails with DEPENDENCY_LOOP if the declared dependencies
// contain a cycle; an orchestration never begins with an inconsistent
// plan.
func New(d *config.Deployment, p provider.StackProvider, opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PausePeriod <= 0 {
		opts.PausePeriod = defaultPausePeriod
	}

	g := depgraph.New()
	byID := make(map[string]*stack.Stack, len(d.Stacks))
	for _, s := range d.Stacks {
		if err := g.AddNode(s.ID); err != nil {
			return nil, err
		}
		byID[s.ID] = s
		if s.External == nil {
			s.External = opts.Lookup
		}
	}
	for _, s := range d.Stacks {
		for _, dep := range s.DependsOn {
			if !g.Has(dep) {
				return nil, errors.New(errors.ErrCodeUnknownNode,
					"stack %s depends on %s, which the deployment does not declare", s.Name, dep)
			}
			if err := g.AddDependency(dep, s.ID); err != nil {
				return nil, err
			}
		}
	}
	if cycle := g.FindCycle(); cycle != nil {
		return nil, errors.New(errors.ErrCodeDependencyLoop,
			"dependency cycle: %s", depgraph.FormatCycle(cycle))
	}

	var ordered []*stack.Stack
	for id := range g.Traverse("") {
		ordered = append(ordered, byID[id])
	}

	return &Orchestrator{
		deployment: d,
		provider:   p,
		cache:      statecache.New(p),
		graph:      g,
		stacks:     ordered,
		byID:       byID,
		logger:     opts.Logger,
		opts:       opts,
	}, nil
}

// selectStacks returns the stacks an operation runs over, in dependency
// order. An empty filter selects everything; otherwise the one stack
// whose logical or remote name matches.
func (o *Orchestrator) selectStacks(only string) ([]*stack.Stack, error) {
	if only == "" {
		return o.stacks, nil
	}
	for _, s := range o.stacks {
		if s.Name == only || s.ID == only {
			return []*stack.Stack{s}, nil
		}
	}
	return nil, errors.New(errors.ErrCodeConfiguration,
		"stack %s is not part of deployment %s", only, o.deployment.Name)
}

// Check resolves every stack's parameters and reports existence without
// mutating remote state. A parameter that cannot be resolved is fatal;
// unmet dependencies only downgrade the report.
func (o *Orchestrator) Check(ctx context.Context, only string) error {
	selected, err := o.selectStacks(only)
	if err != nil {
		return err
	}
	for _, s := range selected {
		exists, err := o.cache.Exists(ctx, s.ID)
		if err != nil {
			return err
		}
		resolved, err := s.PopulateParams(ctx, o.cache)
		if err != nil {
			return err
		}
		if !resolved {
			o.logger.Warn("dependencies not met, parameters unresolved",
				"stack", s.Name, "exists", exists)
			continue
		}
		o.logger.Info("checked stack", "stack", s.Name, "exists", exists)
		for name, value := range s.Resolved {
			o.logger.Info("resolved parameter", "stack", s.Name, name, value)
		}
	}
	return nil
}

// Create brings up every selected stack in dependency order. Existing
// stacks are skipped; each created stack is watched to its terminal
// status before the next begins, since later stacks may reference its
// outputs.
func (o *Orchestrator) Create(ctx context.Context, only string) error {
	selected, err := o.selectStacks(only)
	if err != nil {
		return err
	}
	for _, s := range selected {
		exists, err := o.cache.Exists(ctx, s.ID)
		if err != nil {
			return err
		}
		if exists {
			o.logger.Info("stack already exists, skipping", "stack", s.Name)
			continue
		}
		if err := o.createOne(ctx, s); err != nil {
			return err
		}
		status, err := o.watchEvents(ctx, s.ID, provider.CreateInProgressStatuses)
		if err != nil {
			return err
		}
		if status != provider.StatusCreateComplete {
			return errors.New(errors.ErrCodeOperationFailed,
				"stack %s finished creation in status %s", s.Name, status)
		}
		o.cache.Invalidate(s.ID)
		o.logger.Info("stack created", "stack", s.Name)
	}
	return nil
}

// createOne resolves parameters and template for one stack and issues
// its creation. Unmet dependencies at this point are a scheduling bug,
// not a transient condition, and are fatal.
func (o *Orchestrator) createOne(ctx context.Context, s *stack.Stack) error {
	resolved, err := s.PopulateParams(ctx, o.cache)
	if err != nil {
		return err
	}
	if !resolved {
		return errors.New(errors.ErrCodeUnmetDependency,
			"dependencies of stack %s are not met", s.Name)
	}
	if err := s.ReadTemplate(); err != nil {
		return err
	}
	o.logger.Info("creating stack", "stack", s.Name, "id", s.ID)
	return o.cache.CreateStack(ctx, provider.CreateInput{
		Name:             s.ID,
		TemplateBody:     s.TemplateBody,
		Parameters:       s.Resolved,
		Tags:             s.Tags,
		NotificationARNs: s.NotificationARNs,
	})
}

// successStatuses are the terminal states concurrent create treats as
// done: freshly created, or already converged from an earlier run.
var successStatuses = []string{provider.StatusCreateComplete, provider.StatusUpdateComplete}

// CreateConcurrent brings up the deployment by repeatedly issuing every
// dependency-satisfied stack at once. A live clone of the graph is
// pruned as stacks reach a success terminal; a stack observed in any
// other non-progressing status aborts the run, leaving in-flight
// operations to the remote system.
func (o *Orchestrator) CreateConcurrent(ctx context.Context) error {
	live := o.graph.Clone()
	issued := make(map[string]bool)

	for live.Len() > 0 {
		o.cache.InvalidateAll()
		summaries, err := o.cache.ListExisting(ctx)
		if err != nil {
			return err
		}
		for _, id := range live.Nodes() {
			sum, ok := summaries[id]
			if !ok || sum.Deleted {
				continue
			}
			switch {
			case provider.StatusIn(sum.Status, successStatuses):
				if err := live.DeleteNode(id); err != nil {
					return err
				}
				o.logger.Info("stack complete", "stack", o.byID[id].Name, "status", sum.Status)
			case provider.InProgress(sum.Status):
				// Still converging, nothing to do this round.
			default:
				return errors.New(errors.ErrCodeStackStatusInconsistent,
					"stack %s is in status %s, refusing to continue", o.byID[id].Name, sum.Status)
			}
		}

		var frontier []*stack.Stack
		for _, id := range live.EdgeNodes() {
			sum, known := summaries[id]
			if issued[id] || (known && !sum.Deleted) {
				continue
			}
			frontier = append(frontier, o.byID[id])
		}
		if err := o.issueFrontier(ctx, frontier, issued); err != nil {
			return err
		}
		if live.Len() == 0 {
			break
		}
		if err := sleep(ctx, o.opts.PollInterval); err != nil {
			return err
		}
	}
	o.logger.Info("all stacks complete", "deployment", o.deployment.Name)
	return nil
}

func (o *Orchestrator) issueFrontier(ctx context.Context, frontier []*stack.Stack, issued map[string]bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range frontier {
		issued[s.ID] = true
		g.Go(func() error {
			return o.createOne(ctx, s)
		})
	}
	return g.Wait()
}

// Update converges every selected stack onto its local template and
// parameters, in dependency order. Stacks that are already up to date
// are skipped without a remote mutation; a provider refusing a no-op
// update is a benign skip too. Every processed stack is followed by a
// short pause.
func (o *Orchestrator) Update(ctx context.Context, only string) error {
	selected, err := o.selectStacks(only)
	if err != nil {
		return err
	}
	for _, s := range selected {
		exists, err := o.cache.Exists(ctx, s.ID)
		if err != nil {
			return err
		}
		if !exists {
			return errors.New(errors.ErrCodeStackNotFound,
				"stack %s does not exist, create it before updating", s.Name)
		}
		resolved, err := s.PopulateParams(ctx, o.cache)
		if err != nil {
			return err
		}
		if !resolved {
			return errors.New(errors.ErrCodeUnmetDependency,
				"dependencies of stack %s are not met", s.Name)
		}
		if err := s.ReadTemplate(); err != nil {
			return err
		}

		templateCurrent, err := s.TemplateUpToDate(ctx, o.cache)
		if err != nil {
			return err
		}
		paramsCurrent, err := s.ParamsUpToDate(ctx, o.cache)
		if err != nil {
			return err
		}
		if templateCurrent && paramsCurrent {
			o.logger.Info("stack up to date, skipping", "stack", s.Name)
			continue
		}

		if err := o.provider.ValidateTemplate(ctx, s.TemplateBody); err != nil {
			return err
		}
		o.logger.Info("updating stack", "stack", s.Name, "id", s.ID)
		err = o.cache.UpdateStack(ctx, provider.UpdateInput{
			Name:         s.ID,
			TemplateBody: s.TemplateBody,
			Parameters:   s.Resolved,
			Tags:         s.Tags,
		})
		switch {
		case provider.IsNoOpUpdate(err):
			o.logger.Info("no updates to perform", "stack", s.Name)
		case err != nil:
			return err
		default:
			status, err := o.watchEvents(ctx, s.ID, provider.UpdateInProgressStatuses)
			if err != nil {
				return err
			}
			if status != provider.StatusUpdateComplete {
				return errors.New(errors.ErrCodeOperationFailed,
					"stack %s finished update in status %s", s.Name, status)
			}
			o.logger.Info("stack updated", "stack", s.Name)
		}
		if err := sleep(ctx, o.opts.PausePeriod); err != nil {
			return err
		}
	}
	return nil
}

// Delete tears down every selected stack in reverse dependency order.
// Each deletion is individually confirmed with both the logical and
// remote names; an unconfirmed stack is skipped, not fatal.
func (o *Orchestrator) Delete(ctx context.Context, only string) error {
	selected, err := o.selectStacks(only)
	if err != nil {
		return err
	}
	for i := len(selected) - 1; i >= 0; i-- {
		s := selected[i]
		exists, err := o.cache.Exists(ctx, s.ID)
		if err != nil {
			return err
		}
		if !exists {
			o.logger.Info("stack does not exist, skipping", "stack", s.Name)
			continue
		}
		if o.opts.Confirm == nil || !o.opts.Confirm(s.Name, s.ID) {
			o.logger.Warn("deletion not confirmed, skipping", "stack", s.Name)
			continue
		}
		o.logger.Info("deleting stack", "stack", s.Name, "id", s.ID)
		if err := o.cache.DeleteStack(ctx, s.ID); err != nil {
			return err
		}
		status, err := o.watchEvents(ctx, s.ID, provider.DeleteInProgressStatuses)
		if err != nil {
			return err
		}
		if !provider.Deleted(status) {
			return errors.New(errors.ErrCodeOperationFailed,
				"stack %s finished deletion in status %s", s.Name, status)
		}
		o.logger.Info("stack deleted", "stack", s.Name)
	}
	return nil
}

// Watch follows one stack's event stream until its status changes from
// the current value. An unknown or non-existing stack is logged, not
// fatal.
func (o *Orchestrator) Watch(ctx context.Context, name string) error {
	selected, err := o.selectStacks(name)
	if err != nil {
		o.logger.Error("cannot watch", "stack", name, "err", errors.UserMessage(err))
		return nil
	}
	s := selected[0]
	status, err := o.stackStatus(ctx, s.ID)
	if err != nil {
		return err
	}
	if status == provider.StatusGone {
		o.logger.Info("stack does not exist", "stack", s.Name)
		return nil
	}
	o.logger.Info("watching stack", "stack", s.Name, "status", status)
	final, err := o.watchEvents(ctx, s.ID, []string{status})
	if err != nil {
		return err
	}
	o.logger.Info("stack changed status", "stack", s.Name, "status", final)
	return nil
}

// watchEvents polls one stack until its status leaves the given
// in-progress set, emitting newly appended events each round. The
// trailing window of recent events is printed up front so an operation
// joined late still shows context. Returns the terminal status, with
// STACK_GONE standing in for a stack the remote system no longer knows.
func (o *Orchestrator) watchEvents(ctx context.Context, id string, inProgress []string) (string, error) {
	status, err := o.stackStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if status == provider.StatusGone {
		return provider.StatusGone, nil
	}

	events, err := o.provider.ListStackEvents(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrCodeStackNotFound) {
			return provider.StatusGone, nil
		}
		return "", err
	}
	tail := events
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	for _, e := range tail {
		o.printEvent(id, e)
	}
	var last provider.Event
	if len(events) > 0 {
		last = events[len(events)-1]
	}

	for provider.StatusIn(status, inProgress) {
		if err := sleep(ctx, o.opts.PollInterval); err != nil {
			return "", err
		}
		events, err = o.provider.ListStackEvents(ctx, id)
		if err != nil {
			if errors.Is(err, errors.ErrCodeStackNotFound) {
				return provider.StatusGone, nil
			}
			return "", err
		}
		for _, e := range eventsAfter(events, last) {
			o.printEvent(id, e)
		}
		if len(events) > 0 {
			last = events[len(events)-1]
		}
		status, err = o.stackStatus(ctx, id)
		if err != nil {
			return "", err
		}
		if status == provider.StatusGone {
			return provider.StatusGone, nil
		}
	}
	return status, nil
}

// stackStatus re-reads one stack's current status, bypassing staleness.
// Returns STACK_GONE when the remote system no longer lists the stack
// or lists it as deleted.
func (o *Orchestrator) stackStatus(ctx context.Context, id string) (string, error) {
	o.cache.Invalidate(id)
	summaries, err := o.cache.ListExisting(ctx)
	if err != nil {
		return "", err
	}
	sum, ok := summaries[id]
	if !ok || sum.Deleted {
		return provider.StatusGone, nil
	}
	return sum.Status, nil
}

// eventsAfter returns the suffix of events appended after the last seen
// event, matched by timestamp, logical resource, and status. If the
// last seen event is no longer in the log, everything is new.
func eventsAfter(events []provider.Event, last provider.Event) []provider.Event {
	if last.Timestamp.IsZero() {
		return events
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Timestamp.Equal(last.Timestamp) && e.LogicalID == last.LogicalID && e.Status == last.Status {
			return events[i+1:]
		}
	}
	return events
}

func (o *Orchestrator) printEvent(id string, e provider.Event) {
	if o.opts.PrintEvent != nil {
		o.opts.PrintEvent(id, e)
		return
	}
	o.logger.Info("stack event", "stack", id, "resource", e.LogicalID,
		"type", e.ResourceType, "status", e.Status, "reason", e.StatusReason)
}

// sleep waits for d or until the context is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
