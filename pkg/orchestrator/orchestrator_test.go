package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tobyh/cirrus/pkg/config"
	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/provider"
	"github.com/tobyh/cirrus/pkg/stack"
)

// remoteStack is one stack held by the fake provider. pending is the
// status the stack advances to on the next listing poll, simulating the
// remote system making progress between polls.
type remoteStack struct {
	status  string
	pending string

	params   map[string]string
	outputs  map[string]string
	template string
	events   []provider.Event
}

type fakeProvider struct {
	mu     sync.Mutex
	stacks map[string]*remoteStack

	// outputsOnCreate seeds a stack's outputs once its creation
	// completes, so dependents can reference them.
	outputsOnCreate map[string]map[string]string

	// createTerminal overrides the terminal status of a creation.
	createTerminal map[string]string

	// refuseUpdates makes every update fail with the remote system's
	// no-op refusal.
	refuseUpdates bool

	createOrder []string
	deleteOrder []string
	updateCalls int
	mutations   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		stacks:          make(map[string]*remoteStack),
		outputsOnCreate: make(map[string]map[string]string),
		createTerminal:  make(map[string]string),
	}
}

func (f *fakeProvider) addEvent(name string, r *remoteStack, status string) {
	r.events = append(r.events, provider.Event{
		Timestamp: time.Now(),
		LogicalID: name,
		Status:    status,
	})
}

// ListStacks advances every pending transition, then reports.
func (f *fakeProvider) ListStacks(ctx context.Context) ([]provider.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []provider.Summary
	for name, r := range f.stacks {
		if r.pending != "" {
			r.status = r.pending
			r.pending = ""
			f.addEvent(name, r, r.status)
			if r.status == provider.StatusCreateComplete {
				r.outputs = f.outputsOnCreate[name]
			}
		}
		out = append(out, provider.Summary{Name: name, Status: r.status})
	}
	return out, nil
}

func (f *fakeProvider) DescribeStack(ctx context.Context, name string) (*provider.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.stacks[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeStackNotFound, "stack %s not found", name)
	}
	return &provider.Details{
		Name:       name,
		Status:     r.status,
		Parameters: r.params,
		Outputs:    r.outputs,
	}, nil
}

func (f *fakeProvider) ListStackResources(ctx context.Context, name string) ([]provider.Resource, error) {
	return nil, nil
}

func (f *fakeProvider) GetTemplate(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.stacks[name]
	if !ok {
		return "", errors.New(errors.ErrCodeStackNotFound, "stack %s not found", name)
	}
	return r.template, nil
}

func (f *fakeProvider) CreateStack(ctx context.Context, in provider.CreateInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	f.createOrder = append(f.createOrder, in.Name)
	terminal := f.createTerminal[in.Name]
	if terminal == "" {
		terminal = provider.StatusCreateComplete
	}
	r := &remoteStack{
		status:   provider.StatusCreateInProgress,
		pending:  terminal,
		params:   in.Parameters,
		template: in.TemplateBody,
	}
	f.addEvent(in.Name, r, r.status)
	f.stacks[in.Name] = r
	return nil
}

func (f *fakeProvider) UpdateStack(ctx context.Context, in provider.UpdateInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	f.updateCalls++
	if f.refuseUpdates {
		return stderrors.New("ValidationError: No updates are to be performed.")
	}
	r := f.stacks[in.Name]
	r.status = provider.StatusUpdateInProgress
	r.pending = provider.StatusUpdateComplete
	r.params = in.Parameters
	r.template = in.TemplateBody
	f.addEvent(in.Name, r, r.status)
	return nil
}

func (f *fakeProvider) DeleteStack(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	f.deleteOrder = append(f.deleteOrder, name)
	r := f.stacks[name]
	r.status = provider.StatusDeleteInProgress
	r.pending = provider.StatusDeleteComplete
	f.addEvent(name, r, r.status)
	return nil
}

func (f *fakeProvider) ValidateTemplate(ctx context.Context, body string) error { return nil }

func (f *fakeProvider) ListStackEvents(ctx context.Context, name string) ([]provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.stacks[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeStackNotFound, "stack %s not found", name)
	}
	out := make([]provider.Event, len(r.events))
	copy(out, r.events)
	return out, nil
}

func addExisting(f *fakeProvider, name, status, template string, params map[string]string) *remoteStack {
	r := &remoteStack{status: status, template: template, params: params}
	f.stacks[name] = r
	return r
}

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testDeployment wires a network stack exporting VpcId and a web stack
// consuming it.
func testDeployment(t *testing.T) *config.Deployment {
	t.Helper()
	network := &stack.Stack{
		Name: "network", ID: "prod-network", Deployment: "prod",
		TemplatePath: writeTemplate(t, "Resources:\n  Vpc: 1\n"),
		Params:       map[string]stack.ParamSpec{"CidrBlock": stack.Literal{Value: "10.0.0.0/16"}},
	}
	web := &stack.Stack{
		Name: "web", ID: "prod-web", Deployment: "prod",
		TemplatePath: writeTemplate(t, "Resources:\n  Asg: 1\n"),
		DependsOn:    []string{"prod-network"},
		Params: map[string]stack.ParamSpec{
			"VpcId": stack.CrossStackRef{Source: "network", Kind: stack.RefOutput, Variable: "VpcId"},
		},
	}
	return &config.Deployment{
		Name:   "prod",
		Region: "eu-west-1",
		Stacks: []*stack.Stack{network, web},
	}
}

func testOptions() Options {
	return Options{
		PollInterval: time.Millisecond,
		PausePeriod:  time.Millisecond,
	}
}

func TestNew_CycleIsFatal(t *testing.T) {
	mk := func(name string, deps ...string) *stack.Stack {
		return &stack.Stack{Name: name, ID: "prod-" + name, Deployment: "prod", DependsOn: deps}
	}
	d := &config.Deployment{Name: "prod", Region: "eu-west-1", Stacks: []*stack.Stack{
		mk("a", "prod-c"), mk("b", "prod-a"), mk("c", "prod-b"),
	}}

	_, err := New(d, newFakeProvider(), testOptions())
	if !errors.Is(err, errors.ErrCodeDependencyLoop) {
		t.Errorf("New() = %v, want DEPENDENCY_LOOP", err)
	}
}

func TestNew_UnknownDependencyIsFatal(t *testing.T) {
	d := &config.Deployment{Name: "prod", Region: "eu-west-1", Stacks: []*stack.Stack{
		{Name: "web", ID: "prod-web", Deployment: "prod", DependsOn: []string{"prod-network"}},
	}}

	_, err := New(d, newFakeProvider(), testOptions())
	if !errors.Is(err, errors.ErrCodeUnknownNode) {
		t.Errorf("New() = %v, want UNKNOWN_NODE", err)
	}
}

func TestCreate_OrdersByDependency(t *testing.T) {
	f := newFakeProvider()
	f.outputsOnCreate["prod-network"] = map[string]string{"VpcId": "vpc-0a1b"}
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []string{"prod-network", "prod-web"}
	if len(f.createOrder) != 2 || f.createOrder[0] != want[0] || f.createOrder[1] != want[1] {
		t.Errorf("createOrder = %v, want %v", f.createOrder, want)
	}
	// The dependent stack resolved its parameter from the freshly
	// created stack's outputs.
	if got := f.stacks["prod-web"].params["VpcId"]; got != "vpc-0a1b" {
		t.Errorf("web VpcId = %q, want %q", got, "vpc-0a1b")
	}
}

func TestCreate_SkipsExisting(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete, "", nil)
	f.stacks["prod-network"].outputs = map[string]string{"VpcId": "vpc-0a1b"}
	addExisting(f, "prod-web", provider.StatusCreateComplete, "", nil)
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.createOrder) != 0 {
		t.Errorf("createOrder = %v, want no creations", f.createOrder)
	}
}

func TestCreate_FailedTerminalStatusIsFatal(t *testing.T) {
	f := newFakeProvider()
	f.createTerminal["prod-network"] = provider.StatusRollbackComplete
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = o.Create(context.Background(), "")
	if !errors.Is(err, errors.ErrCodeOperationFailed) {
		t.Errorf("Create() = %v, want OPERATION_FAILED", err)
	}
	if len(f.createOrder) != 1 {
		t.Errorf("createOrder = %v, want only the failed stack", f.createOrder)
	}
}

func TestCreateConcurrent(t *testing.T) {
	f := newFakeProvider()
	f.outputsOnCreate["prod-network"] = map[string]string{"VpcId": "vpc-0a1b"}
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.CreateConcurrent(context.Background()); err != nil {
		t.Fatalf("CreateConcurrent: %v", err)
	}
	want := []string{"prod-network", "prod-web"}
	if len(f.createOrder) != 2 || f.createOrder[0] != want[0] || f.createOrder[1] != want[1] {
		t.Errorf("createOrder = %v, want %v", f.createOrder, want)
	}
}

func TestCreateConcurrent_InconsistentStatusAborts(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusRollbackComplete, "", nil)
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = o.CreateConcurrent(context.Background())
	if !errors.Is(err, errors.ErrCodeStackStatusInconsistent) {
		t.Errorf("CreateConcurrent() = %v, want STACK_STATUS_INCONSISTENT", err)
	}
}

func TestUpdate_SkipsWhenUpToDate(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete,
		`{"Resources":{"Vpc":1}}`, map[string]string{"CidrBlock": "10.0.0.0/16"})
	f.stacks["prod-network"].outputs = map[string]string{"VpcId": "vpc-0a1b"}
	addExisting(f, "prod-web", provider.StatusCreateComplete,
		`{"Resources":{"Asg":1}}`, map[string]string{"VpcId": "vpc-0a1b"})
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Update(context.Background(), ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.updateCalls != 0 {
		t.Errorf("updateCalls = %d, want 0 for up-to-date stacks", f.updateCalls)
	}
}

func TestUpdate_AppliesWhenStale(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete,
		`{"Resources":{"Old":1}}`, map[string]string{"CidrBlock": "10.0.0.0/8"})
	f.stacks["prod-network"].outputs = map[string]string{"VpcId": "vpc-0a1b"}
	addExisting(f, "prod-web", provider.StatusCreateComplete,
		`{"Resources":{"Asg":1}}`, map[string]string{"VpcId": "vpc-0a1b"})
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Update(context.Background(), ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1 (only the stale stack)", f.updateCalls)
	}
	if got := f.stacks["prod-network"].params["CidrBlock"]; got != "10.0.0.0/16" {
		t.Errorf("CidrBlock after update = %q, want %q", got, "10.0.0.0/16")
	}
}

func TestUpdate_NoOpRefusalIsBenign(t *testing.T) {
	f := newFakeProvider()
	f.refuseUpdates = true
	addExisting(f, "prod-network", provider.StatusCreateComplete,
		`{"Resources":{"Old":1}}`, map[string]string{"CidrBlock": "10.0.0.0/16"})
	f.stacks["prod-network"].outputs = map[string]string{"VpcId": "vpc-0a1b"}
	addExisting(f, "prod-web", provider.StatusCreateComplete,
		`{"Resources":{"Asg":1}}`, map[string]string{"VpcId": "vpc-0a1b"})
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Update(context.Background(), ""); err != nil {
		t.Errorf("Update() = %v, want nil for a no-op refusal", err)
	}
}

func TestUpdate_MissingStackIsFatal(t *testing.T) {
	o, err := New(testDeployment(t), newFakeProvider(), testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = o.Update(context.Background(), "")
	if !errors.Is(err, errors.ErrCodeStackNotFound) {
		t.Errorf("Update() = %v, want STACK_NOT_FOUND", err)
	}
}

func TestDelete_ReverseOrderWithConfirmation(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete, "", nil)
	addExisting(f, "prod-web", provider.StatusCreateComplete, "", nil)
	opts := testOptions()
	var prompts []string
	opts.Confirm = func(name, id string) bool {
		prompts = append(prompts, name+"/"+id)
		return true
	}
	o, err := New(testDeployment(t), f, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Delete(context.Background(), ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	want := []string{"prod-web", "prod-network"}
	if len(f.deleteOrder) != 2 || f.deleteOrder[0] != want[0] || f.deleteOrder[1] != want[1] {
		t.Errorf("deleteOrder = %v, want %v", f.deleteOrder, want)
	}
	// The prompt names both identifiers.
	if len(prompts) != 2 || prompts[0] != "web/prod-web" {
		t.Errorf("prompts = %v, want both names per stack", prompts)
	}
}

func TestDelete_UnconfirmedIsSkipped(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete, "", nil)
	addExisting(f, "prod-web", provider.StatusCreateComplete, "", nil)
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Delete(context.Background(), ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.deleteOrder) != 0 {
		t.Errorf("deleteOrder = %v, want no deletions without confirmation", f.deleteOrder)
	}
}

func TestCheck_NeverMutates(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete, "", nil)
	f.stacks["prod-network"].outputs = map[string]string{"VpcId": "vpc-0a1b"}
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Check(context.Background(), ""); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if f.mutations != 0 {
		t.Errorf("mutations = %d, want 0", f.mutations)
	}
}

func TestCheck_SingleStackFilter(t *testing.T) {
	f := newFakeProvider()
	addExisting(f, "prod-network", provider.StatusCreateComplete, "", nil)
	o, err := New(testDeployment(t), f, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Check(context.Background(), "network"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := o.Check(context.Background(), "ghost"); !errors.Is(err, errors.ErrCodeConfiguration) {
		t.Errorf("Check(ghost) = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestWatch_UnknownStackIsNotFatal(t *testing.T) {
	o, err := New(testDeployment(t), newFakeProvider(), testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Watch(context.Background(), "ghost"); err != nil {
		t.Errorf("Watch(ghost) = %v, want nil", err)
	}
}

func TestWatch_NotExistingIsNotFatal(t *testing.T) {
	o, err := New(testDeployment(t), newFakeProvider(), testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Watch(context.Background(), "network"); err != nil {
		t.Errorf("Watch(network) = %v, want nil when not existing", err)
	}
}

func TestCreate_EmitsEvents(t *testing.T) {
	f := newFakeProvider()
	f.outputsOnCreate["prod-network"] = map[string]string{"VpcId": "vpc-0a1b"}
	opts := testOptions()
	var mu sync.Mutex
	var seen []string
	opts.PrintEvent = func(id string, e provider.Event) {
		mu.Lock()
		seen = append(seen, id+":"+e.Status)
		mu.Unlock()
	}
	o, err := New(testDeployment(t), f, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(seen) == 0 {
		t.Error("no events emitted during create")
	}
}
