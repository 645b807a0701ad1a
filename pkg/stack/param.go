package stack

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tobyh/cirrus/pkg/errors"
)

// RefKind names which facet of a source stack a cross-stack reference
// reads.
type RefKind string

const (
	RefParameter RefKind = "parameter"
	RefOutput    RefKind = "output"
	RefResource  RefKind = "resource"
)

// ParamSpec is one declared parameter value. Each variant carries
// exactly the data its resolution needs; the configuration layer picks
// the variant by declaration-field precedence, so resolution is a plain
// type switch with no field probing.
type ParamSpec interface {
	isParamSpec()
}

// Literal is a verbatim parameter value.
type Literal struct {
	Value string
}

// EnvLookup reads a process environment variable. The variable name is
// upper-cased before lookup; resolution fails if it is unset.
type EnvLookup struct {
	Var string
}

// ExternalLookup fetches the value from an external store addressed by
// URI.
type ExternalLookup struct {
	URI string
}

// CronTimezone holds a five-field cron expression written in the
// deployment's local timezone; resolution rewrites its hour field to
// UTC.
type CronTimezone struct {
	Expr string
}

// CrossStackRef reads a parameter, output value, or resource physical
// ID from another stack of the same deployment.
type CrossStackRef struct {
	Source   string // unqualified source stack name
	Kind     RefKind
	Variable string
}

// List resolves each element and joins the results with commas.
type List struct {
	Elems []ParamSpec
}

func (Literal) isParamSpec()        {}
func (EnvLookup) isParamSpec()      {}
func (ExternalLookup) isParamSpec() {}
func (CronTimezone) isParamSpec()   {}
func (CrossStackRef) isParamSpec()  {}
func (List) isParamSpec()           {}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronToUTC validates a five-field cron expression and shifts its hour
// field from loc to UTC. Only whole-hour zone offsets are supported.
func cronToUTC(expr string, loc *time.Location) (string, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return "", errors.Wrap(errors.ErrCodeUnresolvableParameter, err, "invalid cron expression %q", expr)
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", errors.New(errors.ErrCodeUnresolvableParameter, "cron expression %q must have 5 fields", expr)
	}
	_, offset := time.Now().In(loc).Zone()
	if offset%3600 != 0 {
		return "", errors.New(errors.ErrCodeUnresolvableParameter,
			"timezone %s has a sub-hour UTC offset, cannot shift cron hours", loc)
	}
	shifted, err := shiftHourField(fields[1], offset/3600)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnresolvableParameter, err, "cron expression %q", expr)
	}
	fields[1] = shifted
	return strings.Join(fields, " "), nil
}

// shiftHourField rewrites every hour number in the field by -offset
// hours, modulo 24. Wildcards and step suffixes pass through.
func shiftHourField(field string, offsetHours int) (string, error) {
	tokens := strings.Split(field, ",")
	for i, tok := range tokens {
		tok, step, hasStep := strings.Cut(tok, "/")
		if tok != "*" {
			parts := strings.Split(tok, "-")
			if len(parts) > 2 {
				return "", fmt.Errorf("malformed hour range %q", tok)
			}
			for j, p := range parts {
				h, err := strconv.Atoi(p)
				if err != nil {
					return "", fmt.Errorf("malformed hour %q", p)
				}
				parts[j] = strconv.Itoa(((h-offsetHours)%24 + 24) % 24)
			}
			tok = strings.Join(parts, "-")
		}
		if hasStep {
			tok += "/" + step
		}
		tokens[i] = tok
	}
	return strings.Join(tokens, ","), nil
}

// lookupEnv resolves an EnvLookup the way declarations are written:
// trimmed, upper-cased, unset is an error.
func lookupEnv(name string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", errors.New(errors.ErrCodeUnresolvableParameter, "environment variable %s is not set", key)
	}
	return v, nil
}
