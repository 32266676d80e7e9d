package handlers

import (
	"context"
	"fmt"

	"github.com/c360studio/evoq/dispatch"
	"github.com/c360studio/evoq/model"
)

// LLMConfigManagerName is the handler name the llm_config_updates queue
// routes to.
const LLMConfigManagerName = "llm-config-manager"

func init() {
	if err := dispatch.RegisterHandler(LLMConfigManagerName, HandleLLMConfigUpdate); err != nil {
		panic("failed to register llm-config-manager handler: " + err.Error())
	}
}

// HandleLLMConfigUpdate applies one capability, endpoint, or default-model
// update to the global model registry. Dry runs validate without touching
// the registry. Non-dry-run updates change which models the platform routes
// work to, so they must have passed the approval gate.
func HandleLLMConfigUpdate(_ context.Context, req *dispatch.Request) (dispatch.Result, error) {
	var update model.Update
	if err := decodePayload(req.Payload, &update); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}
	if err := update.Validate(); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}

	if req.DryRun {
		return dispatch.Result{
			"operation": update.Operation,
			"dry_run":   true,
			"valid":     true,
		}, nil
	}

	if !req.Approved {
		return nil, dispatch.NewPermanentError(
			fmt.Errorf("approval_required: %s changes model routing", update.Operation))
	}

	registry := model.Global()
	if err := registry.ApplyUpdate(update); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}

	return dispatch.Result{
		"operation":     update.Operation,
		"default_model": registry.Default(),
		"capabilities":  len(registry.ListCapabilities()),
		"endpoints":     len(registry.ListEndpoints()),
	}, nil
}
