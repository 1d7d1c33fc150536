package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dukex/siteflow/pkg/cmd"
	"github.com/dukex/siteflow/pkg/config"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/services"
	"github.com/urfave/cli/v3"
)

var errNothingToValidate = errors.New("either --seed-file or --database-url is required")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate workflow definitions from a seed file and active workflows in the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "seed-file",
				Usage: "YAML file with workflow definitions",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "siteflow-dispatcher",
				"action", "validate",
			)

			seedFile := command.String("seed-file")
			databaseURL := command.String("database-url")

			if seedFile == "" && databaseURL == "" {
				return errNothingToValidate
			}

			registry, err := cmd.NewRegistry(logger, nil, nil, http.DefaultClient)
			if err != nil {
				return err
			}

			if err := cmd.RegisterChaining(registry, nil); err != nil {
				return err
			}

			validator := services.NewWorkflow(logger, nil, registry)

			var workflows []*models.Workflow

			if seedFile != "" {
				seeded, err := config.LoadDefinitions(seedFile)
				if err != nil {
					return err
				}

				workflows = append(workflows, seeded...)
			}

			if databaseURL != "" {
				stored, err := activeWorkflows(ctx, logger, databaseURL)
				if err != nil {
					return err
				}

				workflows = append(workflows, stored...)
			}

			logger.Info("Validating workflows", "workflows", len(workflows))

			if invalid := validateWorkflows(os.Stdout, validator, workflows); invalid > 0 {
				return fmt.Errorf("found %d invalid workflows", invalid)
			}

			return nil
		},
	}
}

func activeWorkflows(ctx context.Context, logger *slog.Logger, databaseURL string) ([]*models.Workflow, error) {
	persistence, err := cmd.NewPersistence(ctx, logger, databaseURL, "")
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	var workflows []*models.Workflow

	for _, triggerType := range models.TriggerTypes() {
		active, err := persistence.WorkflowRepository().ListActiveByTriggerType(ctx, triggerType)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch workflows: %w", err)
		}

		workflows = append(workflows, active...)
	}

	return workflows, nil
}

// validateWorkflows prints one line per workflow and returns how many are invalid.
func validateWorkflows(out io.Writer, validator *services.Workflow, workflows []*models.Workflow) int {
	_, _ = fmt.Fprintln(out, "Workflow Validation Results:")
	_, _ = fmt.Fprintln(out, "============================")

	invalid := 0

	for _, workflow := range workflows {
		if err := validator.Validate(workflow); err != nil {
			_, _ = fmt.Fprintf(out, "  %s (%s): INVALID: %v\n", workflow.Name, workflow.ID, err)
			invalid++

			continue
		}

		_, _ = fmt.Fprintf(out, "  %s (%s): VALID, %d steps\n", workflow.Name, workflow.ID, len(workflow.Steps))
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Total workflows: %d\n", len(workflows))
	_, _ = fmt.Fprintf(out, "  Valid workflows: %d\n", len(workflows)-invalid)
	_, _ = fmt.Fprintf(out, "  Invalid workflows: %d\n", invalid)

	return invalid
}
