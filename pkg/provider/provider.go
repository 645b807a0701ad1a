// Package provider defines the boundary to the remote provisioning API
// and its AWS CloudFormation implementation.
//
// The orchestration engine only ever talks to the StackProvider
// interface; transport, authentication, retries, and pagination are the
// provider's concern. Every listing call drains pagination completely
// before returning.
package provider

import (
	"context"
	"time"
)

// Summary is one entry of the full remote stack listing.
type Summary struct {
	Name   string
	Status string
}

// Resource is one provisioned resource of a stack.
type Resource struct {
	LogicalID  string
	PhysicalID string
	Type       string
}

// Details holds the describe-level view of a remote stack.
type Details struct {
	Name       string
	Status     string
	Parameters map[string]string
	Outputs    map[string]string
	Tags       map[string]string

	// Resources is populated only when the caller asked for them;
	// resource listing is a separate, more expensive call.
	Resources []Resource
}

// Event is one entry of a stack's event log.
type Event struct {
	Timestamp    time.Time
	LogicalID    string
	PhysicalID   string
	ResourceType string
	Status       string
	StatusReason string
}

// CreateInput carries everything needed to issue a stack creation.
type CreateInput struct {
	Name             string
	TemplateBody     string
	Parameters       map[string]string
	Tags             map[string]string
	NotificationARNs []string
}

// UpdateInput carries everything needed to issue a stack update.
type UpdateInput struct {
	Name         string
	TemplateBody string
	Parameters   map[string]string
	Tags         map[string]string
}

// StackProvider is the remote provisioning API the orchestrator drives.
//
// ListStacks and ListStackEvents drain all pages before returning.
// ListStackEvents returns events in chronological order, oldest first.
type StackProvider interface {
	ListStacks(ctx context.Context) ([]Summary, error)
	DescribeStack(ctx context.Context, name string) (*Details, error)
	ListStackResources(ctx context.Context, name string) ([]Resource, error)
	GetTemplate(ctx context.Context, name string) (string, error)
	CreateStack(ctx context.Context, in CreateInput) error
	UpdateStack(ctx context.Context, in UpdateInput) error
	DeleteStack(ctx context.Context, name string) error
	ValidateTemplate(ctx context.Context, body string) error
	ListStackEvents(ctx context.Context, name string) ([]Event, error)
}
