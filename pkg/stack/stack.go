// Package stack models one deployable unit: its identity, declared
// parameters, dependencies, and rendered template body. All remote
// reads go through the state cache; a Stack never talks to the
// provider directly.
package stack

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/lookup"
	"github.com/tobyh/cirrus/pkg/statecache"
)

// QualifiedName returns the remote name of a stack within a deployment:
// "<deployment>-<name>", or just the deployment name when the stack is
// named after the deployment itself.
func QualifiedName(deployment, name string) string {
	if name == deployment {
		return deployment
	}
	return deployment + "-" + name
}

// Stack is one deployable unit of a deployment.
//
// Resolved and TemplateBody start empty and are populated during a run
// by PopulateParams and ReadTemplate; they are re-derived on every run
// since remote values may have changed between runs.
type Stack struct {
	Name       string // logical name from the deployment document
	ID         string // qualified remote name
	Deployment string

	TemplatePath     string
	Params           map[string]ParamSpec
	DependsOn        []string // qualified remote names
	Tags             map[string]string
	NotificationARNs []string

	// Timezone interprets CronTimezone parameters; nil means UTC.
	Timezone *time.Location

	// External resolves ExternalLookup parameters; nil is fine when no
	// parameter uses that form.
	External lookup.Resolver

	Resolved     map[string]string
	TemplateBody string
}

// DepsMet reports whether every dependency exists remotely.
func (s *Stack) DepsMet(ctx context.Context, cache *statecache.Cache) (bool, error) {
	for _, dep := range s.DependsOn {
		exists, err := cache.Exists(ctx, dep)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// PopulateParams resolves every declared parameter into Resolved.
// Returns false without mutating anything if a dependency is not yet
// satisfied; a parameter that cannot be resolved is a propagated
// UNRESOLVABLE_PARAMETER error, never a silent skip.
func (s *Stack) PopulateParams(ctx context.Context, cache *statecache.Cache) (bool, error) {
	met, err := s.DepsMet(ctx, cache)
	if err != nil {
		return false, err
	}
	if !met {
		return false, nil
	}
	resolved := make(map[string]string, len(s.Params))
	for name, spec := range s.Params {
		value, err := s.resolve(ctx, cache, spec)
		if err != nil {
			return false, errors.Wrap(errors.ErrCodeUnresolvableParameter, err,
				"parameter %s of stack %s", name, s.Name)
		}
		resolved[name] = value
	}
	s.Resolved = resolved
	return true, nil
}

func (s *Stack) resolve(ctx context.Context, cache *statecache.Cache, spec ParamSpec) (string, error) {
	switch v := spec.(type) {
	case Literal:
		return v.Value, nil
	case EnvLookup:
		return lookupEnv(v.Var)
	case ExternalLookup:
		if s.External == nil {
			return "", errors.New(errors.ErrCodeUnresolvableParameter, "no external lookup resolver configured for %s", v.URI)
		}
		return s.External.Resolve(ctx, v.URI)
	case CronTimezone:
		loc := s.Timezone
		if loc == nil {
			loc = time.UTC
		}
		return cronToUTC(v.Expr, loc)
	case CrossStackRef:
		return s.resolveCrossStack(ctx, cache, v)
	case List:
		parts := make([]string, len(v.Elems))
		for i, elem := range v.Elems {
			part, err := s.resolve(ctx, cache, elem)
			if err != nil {
				return "", err
			}
			parts[i] = part
		}
		return strings.Join(parts, ","), nil
	default:
		return "", errors.New(errors.ErrCodeUnresolvableParameter, "unrecognized parameter declaration")
	}
}

func (s *Stack) resolveCrossStack(ctx context.Context, cache *statecache.Cache, ref CrossStackRef) (string, error) {
	source := QualifiedName(s.Deployment, ref.Source)
	details, err := cache.Describe(ctx, source, ref.Kind == RefResource)
	if err != nil {
		return "", err
	}
	switch ref.Kind {
	case RefParameter:
		if v, ok := details.Parameters[ref.Variable]; ok {
			return v, nil
		}
	case RefOutput:
		if v, ok := details.Outputs[ref.Variable]; ok {
			return v, nil
		}
	case RefResource:
		for _, r := range details.Resources {
			if r.LogicalID == ref.Variable {
				return r.PhysicalID, nil
			}
		}
	default:
		return "", errors.New(errors.ErrCodeUnresolvableParameter,
			"reference kind must be parameter, output, or resource, not %q", ref.Kind)
	}
	return "", errors.New(errors.ErrCodeUnresolvableParameter,
		"stack %s has no %s named %s", source, ref.Kind, ref.Variable)
}

// ReadTemplate loads the template file and stores its canonical form in
// TemplateBody. Canonicalization parses the template (YAML or JSON) and
// re-serializes it as JSON with stable key ordering, so structural
// equality is a string comparison.
func (s *Stack) ReadTemplate() error {
	raw, err := os.ReadFile(s.TemplatePath)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTemplateRead, err, "read template of stack %s", s.Name)
	}
	body, err := canonicalize(raw)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTemplateRead, err, "parse template of stack %s", s.Name)
	}
	s.TemplateBody = body
	return nil
}

// canonicalize parses a YAML or JSON document and re-serializes it as
// JSON with sorted keys.
func canonicalize(raw []byte) (string, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// TemplateUpToDate reports whether the remote template structurally
// equals the local one. A stack that does not exist remotely is simply
// not up to date, not an error. Call ReadTemplate first.
func (s *Stack) TemplateUpToDate(ctx context.Context, cache *statecache.Cache) (bool, error) {
	exists, err := cache.Exists(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	remote, err := cache.GetTemplate(ctx, s.ID)
	if err != nil {
		return false, err
	}
	remoteCanonical, err := canonicalize([]byte(remote))
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeTemplateRead, err, "parse remote template of stack %s", s.Name)
	}
	return remoteCanonical == s.TemplateBody, nil
}

// ParamsUpToDate reports whether the remote parameter set equals the
// resolved local one: same count, same keys, same values. The first
// mismatch decides. Call PopulateParams first.
func (s *Stack) ParamsUpToDate(ctx context.Context, cache *statecache.Cache) (bool, error) {
	exists, err := cache.Exists(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	details, err := cache.Describe(ctx, s.ID, false)
	if err != nil {
		return false, err
	}
	if len(details.Parameters) != len(s.Resolved) {
		return false, nil
	}
	for key, local := range s.Resolved {
		remote, ok := details.Parameters[key]
		if !ok || remote != local {
			return false, nil
		}
	}
	return true, nil
}
