// Package config loads the declarative deployment document: one YAML
// file naming the deployment, its region, and every stack with its
// template, parameters, dependencies, and tags.
//
// Environment references of the form ${VAR} are expanded before the
// document is parsed, so any value in the file can be parameterized by
// the calling environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // deployment timezones must resolve without system tzdata

	"gopkg.in/yaml.v3"

	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/stack"
)

// Deployment is the parsed form of one deployment document.
type Deployment struct {
	Name             string
	Region           string
	AccountID        string // optional; verified against the caller identity before mutations
	Timezone         *time.Location
	NotificationARNs []string
	Tags             map[string]string

	// Stacks in document order, excluding disabled ones.
	Stacks []*stack.Stack

	// Disabled lists the stacks excluded by their disable flag, for
	// reporting.
	Disabled []string
}

type deploymentDoc struct {
	Region      string            `yaml:"region"`
	AccountID   string            `yaml:"account_id"`
	Timezone    string            `yaml:"timezone"`
	SNSTopicARN stringList        `yaml:"sns-topic-arn"`
	Tags        map[string]string `yaml:"tags"`
	Stacks      yaml.Node         `yaml:"stacks"`
}

type stackDoc struct {
	Template    string               `yaml:"cf_template"`
	Params      map[string]yaml.Node `yaml:"params"`
	Depends     []string             `yaml:"depends"`
	Tags        map[string]string    `yaml:"tags"`
	SNSTopicARN *stringList          `yaml:"sns-topic-arn"`
	Disable     bool                 `yaml:"disable"`
}

// stringList accepts either a single YAML string or a sequence of
// strings.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = []string{s}
		return nil
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Load reads, expands, and parses the deployment document at path.
// Template paths inside the document resolve relative to the document's
// directory.
func Load(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "read deployment document %s", path)
	}
	return Parse(os.Expand(string(raw), os.Getenv), filepath.Dir(path))
}

// Parse parses an already-expanded deployment document. baseDir anchors
// relative template paths.
func Parse(doc, baseDir string) (*Deployment, error) {
	var root map[string]deploymentDoc
	if err := yaml.Unmarshal([]byte(doc), &root); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "parse deployment document")
	}
	if len(root) != 1 {
		return nil, errors.New(errors.ErrCodeConfiguration,
			"need exactly one deployment name at the top level, found %d", len(root))
	}
	var name string
	var dd deploymentDoc
	for k, v := range root {
		name, dd = k, v
	}
	if dd.Region == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "no region specified for deployment %s", name)
	}

	loc := time.UTC
	if dd.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(dd.Timezone)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "unknown timezone %q", dd.Timezone)
		}
	}

	if err := checkTopicRegions(dd.SNSTopicARN, dd.Region); err != nil {
		return nil, err
	}

	d := &Deployment{
		Name:             name,
		Region:           dd.Region,
		AccountID:        dd.AccountID,
		Timezone:         loc,
		NotificationARNs: dd.SNSTopicARN,
		Tags:             dd.Tags,
	}

	if dd.Stacks.Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrCodeConfiguration, "deployment %s declares no stacks", name)
	}
	for i := 0; i+1 < len(dd.Stacks.Content); i += 2 {
		stackName := dd.Stacks.Content[i].Value
		var sd stackDoc
		if err := dd.Stacks.Content[i+1].Decode(&sd); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "parse stack %s", stackName)
		}
		if sd.Disable {
			d.Disabled = append(d.Disabled, stackName)
			continue
		}
		s, err := buildStack(d, stackName, sd, baseDir)
		if err != nil {
			return nil, err
		}
		d.Stacks = append(d.Stacks, s)
	}
	return d, nil
}

func buildStack(d *Deployment, name string, sd stackDoc, baseDir string) (*stack.Stack, error) {
	if sd.Template == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "stack %s has no cf_template", name)
	}
	templatePath := sd.Template
	if !filepath.IsAbs(templatePath) {
		templatePath = filepath.Join(baseDir, templatePath)
	}

	notify := d.NotificationARNs
	if sd.SNSTopicARN != nil {
		notify = *sd.SNSTopicARN
		if err := checkTopicRegions(notify, d.Region); err != nil {
			return nil, err
		}
	}

	tags := make(map[string]string, len(d.Tags)+len(sd.Tags)+1)
	for k, v := range d.Tags {
		tags[k] = v
	}
	for k, v := range sd.Tags {
		tags[k] = v
	}
	tags["cirrus-deployment"] = d.Name

	depends := make([]string, len(sd.Depends))
	for i, dep := range sd.Depends {
		depends[i] = stack.QualifiedName(d.Name, dep)
	}

	params := make(map[string]stack.ParamSpec, len(sd.Params))
	for pname, node := range sd.Params {
		spec, err := parseParam(name, pname, node)
		if err != nil {
			return nil, err
		}
		params[pname] = spec
	}

	return &stack.Stack{
		Name:             name,
		ID:               stack.QualifiedName(d.Name, name),
		Deployment:       d.Name,
		TemplatePath:     templatePath,
		Params:           params,
		DependsOn:        depends,
		Tags:             tags,
		NotificationARNs: notify,
		Timezone:         d.Timezone,
	}, nil
}

type paramDoc struct {
	Value      yaml.Node `yaml:"value"`
	ValueEnv   string    `yaml:"value_env"`
	ValueS3    string    `yaml:"value_s3"`
	ValueCron  string    `yaml:"value_cron_tz"`
	Source     string    `yaml:"source"`
	SourceType string    `yaml:"type"`
	Variable   string    `yaml:"variable"`
}

// parseParam turns one declared parameter value into its ParamSpec
// variant. Scalars are literals; mappings pick the variant by field
// precedence, first match wins; sequences resolve element-wise.
func parseParam(stackName, paramName string, node yaml.Node) (stack.ParamSpec, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return stack.Literal{Value: node.Value}, nil
	case yaml.SequenceNode:
		elems := make([]stack.ParamSpec, len(node.Content))
		for i, item := range node.Content {
			spec, err := parseParam(stackName, paramName, *item)
			if err != nil {
				return nil, err
			}
			elems[i] = spec
		}
		return stack.List{Elems: elems}, nil
	case yaml.MappingNode:
		var pd paramDoc
		if err := node.Decode(&pd); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfiguration, err,
				"parse parameter %s of stack %s", paramName, stackName)
		}
		switch {
		case pd.Value.Kind != 0:
			return stack.Literal{Value: pd.Value.Value}, nil
		case pd.ValueEnv != "":
			return stack.EnvLookup{Var: pd.ValueEnv}, nil
		case pd.ValueS3 != "":
			return stack.ExternalLookup{URI: pd.ValueS3}, nil
		case pd.ValueCron != "":
			return stack.CronTimezone{Expr: pd.ValueCron}, nil
		case pd.Source != "" && pd.SourceType != "" && pd.Variable != "":
			return stack.CrossStackRef{
				Source:   pd.Source,
				Kind:     stack.RefKind(pd.SourceType),
				Variable: pd.Variable,
			}, nil
		}
	}
	return nil, errors.New(errors.ErrCodeConfiguration,
		"can't parse parameter %s of stack %s", paramName, stackName)
}

// checkTopicRegions rejects notification topics homed outside the
// deployment region.
func checkTopicRegions(arns []string, region string) error {
	for _, arn := range arns {
		parts := strings.Split(arn, ":")
		if len(parts) < 4 || parts[3] != region {
			return errors.New(errors.ErrCodeConfiguration,
				"SNS topic %s is not in the %s region", arn, region)
		}
	}
	return nil
}
