package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tobyh/cirrus/pkg/config"
	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/lookup"
	"github.com/tobyh/cirrus/pkg/orchestrator"
	"github.com/tobyh/cirrus/pkg/provider"
)

// buildOrchestrator loads the deployment document, connects the AWS
// clients for its region, verifies the declared account against the
// caller identity, and assembles the orchestrator.
func buildOrchestrator(ctx context.Context, configPath string, opts orchestrator.Options) (*orchestrator.Orchestrator, error) {
	logger := loggerFromContext(ctx)

	d, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, name := range d.Disabled {
		logger.Warn("stack disabled by configuration, skipping", "stack", name)
	}

	p, err := provider.NewCloudFormation(ctx, d.Region)
	if err != nil {
		return nil, err
	}
	if d.AccountID != "" {
		account, err := p.CallerAccount(ctx)
		if err != nil {
			return nil, err
		}
		if account != d.AccountID {
			return nil, errors.New(errors.ErrCodeConfiguration,
				"deployment %s is bound to account %s but the credentials belong to %s",
				d.Name, d.AccountID, account)
		}
	}

	resolver, err := lookup.NewS3Resolver(ctx, d.Region)
	if err != nil {
		return nil, err
	}

	opts.Logger = logger
	opts.Lookup = resolver
	if opts.PrintEvent == nil {
		opts.PrintEvent = printStackEvent
	}
	return orchestrator.New(d, p, opts)
}

// confirmStackDeletion prompts on stdin and requires the literal answer
// "yes". Anything else skips the stack.
func confirmStackDeletion(name, id string) bool {
	printWarning("About to delete stack %s (remote name %s). This cannot be undone.", name, id)
	fmt.Print("Type 'yes' to confirm: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
