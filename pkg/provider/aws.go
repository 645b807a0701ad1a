package provider

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/tobyh/cirrus/pkg/errors"
)

// CloudFormation implements StackProvider against AWS CloudFormation.
type CloudFormation struct {
	cf  *cloudformation.Client
	sts *sts.Client
}

// NewCloudFormation builds a provider for the given region using the
// default AWS credential chain (environment, shared config, instance
// role).
func NewCloudFormation(ctx context.Context, region string) (*CloudFormation, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProvider, err, "load AWS configuration")
	}
	return &CloudFormation{
		cf:  cloudformation.NewFromConfig(cfg),
		sts: sts.NewFromConfig(cfg),
	}, nil
}

// CallerAccount returns the AWS account ID of the current credentials.
// Used to verify the deployment's declared account before any mutation.
func (p *CloudFormation) CallerAccount(ctx context.Context) (string, error) {
	out, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeProvider, err, "get caller identity")
	}
	return aws.ToString(out.Account), nil
}

// ListStacks returns a summary of every stack the remote system knows,
// draining all pages.
func (p *CloudFormation) ListStacks(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	var token *string
	for {
		out, err := p.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{NextToken: token})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeProvider, err, "list stacks")
		}
		for _, s := range out.Stacks {
			summaries = append(summaries, Summary{
				Name:   aws.ToString(s.StackName),
				Status: string(s.StackStatus),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return summaries, nil
}

// DescribeStack returns parameters, outputs, tags, and status for one
// stack. Resource listing is separate; see ListStackResources.
func (p *CloudFormation) DescribeStack(ctx context.Context, name string) (*Details, error) {
	out, err := p.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.Wrap(errors.ErrCodeStackNotFound, err, "stack %s not found", name)
		}
		return nil, errors.Wrap(errors.ErrCodeProvider, err, "describe stack %s", name)
	}
	if len(out.Stacks) == 0 {
		return nil, errors.New(errors.ErrCodeStackNotFound, "stack %s not found", name)
	}
	s := out.Stacks[0]
	d := &Details{
		Name:       aws.ToString(s.StackName),
		Status:     string(s.StackStatus),
		Parameters: make(map[string]string, len(s.Parameters)),
		Outputs:    make(map[string]string, len(s.Outputs)),
		Tags:       make(map[string]string, len(s.Tags)),
	}
	for _, p := range s.Parameters {
		d.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	for _, o := range s.Outputs {
		d.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	for _, t := range s.Tags {
		d.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return d, nil
}

// ListStackResources returns all provisioned resources of a stack,
// draining pagination.
func (p *CloudFormation) ListStackResources(ctx context.Context, name string) ([]Resource, error) {
	var resources []Resource
	var token *string
	for {
		out, err := p.cf.ListStackResources(ctx, &cloudformation.ListStackResourcesInput{
			StackName: aws.String(name),
			NextToken: token,
		})
		if err != nil {
			if IsNotFound(err) {
				return nil, errors.Wrap(errors.ErrCodeStackNotFound, err, "stack %s not found", name)
			}
			return nil, errors.Wrap(errors.ErrCodeProvider, err, "list resources of stack %s", name)
		}
		for _, r := range out.StackResourceSummaries {
			resources = append(resources, Resource{
				LogicalID:  aws.ToString(r.LogicalResourceId),
				PhysicalID: aws.ToString(r.PhysicalResourceId),
				Type:       aws.ToString(r.ResourceType),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return resources, nil
}

// GetTemplate returns the current template body of a stack.
func (p *CloudFormation) GetTemplate(ctx context.Context, name string) (string, error) {
	out, err := p.cf.GetTemplate(ctx, &cloudformation.GetTemplateInput{StackName: aws.String(name)})
	if err != nil {
		if IsNotFound(err) {
			return "", errors.Wrap(errors.ErrCodeStackNotFound, err, "stack %s not found", name)
		}
		return "", errors.Wrap(errors.ErrCodeProvider, err, "get template of stack %s", name)
	}
	return aws.ToString(out.TemplateBody), nil
}

// CreateStack issues an asynchronous stack creation. The call returns as
// soon as the remote system accepts the request; callers watch the event
// stream for the terminal status.
func (p *CloudFormation) CreateStack(ctx context.Context, in CreateInput) error {
	_, err := p.cf.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:        aws.String(in.Name),
		TemplateBody:     aws.String(in.TemplateBody),
		Parameters:       toParameters(in.Parameters),
		Tags:             toTags(in.Tags),
		NotificationARNs: in.NotificationARNs,
		Capabilities: []cftypes.Capability{
			cftypes.CapabilityCapabilityIam,
			cftypes.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeProvider, err, "create stack %s", in.Name)
	}
	return nil
}

// UpdateStack issues an asynchronous stack update.
func (p *CloudFormation) UpdateStack(ctx context.Context, in UpdateInput) error {
	_, err := p.cf.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(in.Name),
		TemplateBody: aws.String(in.TemplateBody),
		Parameters:   toParameters(in.Parameters),
		Tags:         toTags(in.Tags),
		Capabilities: []cftypes.Capability{
			cftypes.CapabilityCapabilityIam,
			cftypes.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		// Pass no-op refusals through untouched so callers can branch
		// on IsNoOpUpdate.
		if IsNoOpUpdate(err) {
			return err
		}
		return errors.Wrap(errors.ErrCodeProvider, err, "update stack %s", in.Name)
	}
	return nil
}

// DeleteStack issues an asynchronous stack deletion.
func (p *CloudFormation) DeleteStack(ctx context.Context, name string) error {
	_, err := p.cf.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)})
	if err != nil {
		return errors.Wrap(errors.ErrCodeProvider, err, "delete stack %s", name)
	}
	return nil
}

// ValidateTemplate asks the remote system to validate a template body
// without applying it.
func (p *CloudFormation) ValidateTemplate(ctx context.Context, body string) error {
	_, err := p.cf.ValidateTemplate(ctx, &cloudformation.ValidateTemplateInput{TemplateBody: aws.String(body)})
	if err != nil {
		return errors.Wrap(errors.ErrCodeProvider, err, "validate template")
	}
	return nil
}

// ListStackEvents returns the full event log of a stack in chronological
// order, oldest first, draining pagination. The remote system reports
// events newest first; the result is reversed before returning.
func (p *CloudFormation) ListStackEvents(ctx context.Context, name string) ([]Event, error) {
	var events []Event
	var token *string
	for {
		out, err := p.cf.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: aws.String(name),
			NextToken: token,
		})
		if err != nil {
			if IsNotFound(err) {
				return nil, errors.Wrap(errors.ErrCodeStackNotFound, err, "stack %s not found", name)
			}
			return nil, errors.Wrap(errors.ErrCodeProvider, err, "list events of stack %s", name)
		}
		for _, e := range out.StackEvents {
			events = append(events, Event{
				Timestamp:    aws.ToTime(e.Timestamp),
				LogicalID:    aws.ToString(e.LogicalResourceId),
				PhysicalID:   aws.ToString(e.PhysicalResourceId),
				ResourceType: aws.ToString(e.ResourceType),
				Status:       string(e.ResourceStatus),
				StatusReason: aws.ToString(e.ResourceStatusReason),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func toParameters(params map[string]string) []cftypes.Parameter {
	out := make([]cftypes.Parameter, 0, len(params))
	for k, v := range params {
		out = append(out, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}
	return out
}

func toTags(tags map[string]string) []cftypes.Tag {
	out := make([]cftypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, cftypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

// IsNotFound reports whether err is the remote system's way of saying
// the named stack does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrCodeStackNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// IsNoOpUpdate reports whether err is the remote system refusing an
// update because nothing would change. Callers treat this as a benign
// skip; the remote system refuses no-op updates even when a masked
// parameter makes the local diff inconclusive.
func IsNoOpUpdate(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return strings.Contains(err.Error(), "No updates are to be performed")
}
