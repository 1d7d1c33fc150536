// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"

	"github.com/dukex/siteflow/pkg/actions/callwebhook"
	"github.com/dukex/siteflow/pkg/actions/createrecord"
	"github.com/dukex/siteflow/pkg/actions/delay"
	"github.com/dukex/siteflow/pkg/actions/runworkflow"
	"github.com/dukex/siteflow/pkg/actions/sendemail"
	"github.com/dukex/siteflow/pkg/actions/updaterecord"
	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/protocol"
	"github.com/dukex/siteflow/pkg/registry"
)

// NewRegistry registers every built-in action except run_workflow, which needs
// the engine and is added by RegisterChaining.
func NewRegistry(log *slog.Logger, records persistence.RecordRepository, publisher eventbus.EventPublisher, client *http.Client) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	factories := []protocol.ActionFactory{
		sendemail.NewActionFactory(sendemail.NewEventBusMailer(publisher)),
		createrecord.NewActionFactory(records),
		updaterecord.NewActionFactory(records),
		callwebhook.NewActionFactory(client),
		delay.NewActionFactory(),
	}

	for _, factory := range factories {
		if err := reg.RegisterAction(factory); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// RegisterChaining registers run_workflow backed by invoker.
func RegisterChaining(reg *registry.Registry, invoker runworkflow.Invoker) error {
	return reg.RegisterAction(runworkflow.NewActionFactory(invoker))
}
