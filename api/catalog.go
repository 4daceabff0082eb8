/*
catalog.go - Catalog upload and demo scenarios

PURPOSE:
  Lets administrators push a rubrique catalog (YAML or JSON, see
  factory/catalog.go) without restarting, and resets the store to a known
  demo state.

SCENARIOS:
  algeria-default:  Embedded Algerian catalog with three employees
  empty:            Clean store, nothing loaded

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse the scenario catalog
 3. Apply it through factory.Loader (validated before any write)

USAGE VIA API:
  POST /api/catalog                 (Content-Type: application/json or application/yaml)
  GET  /api/scenarios
  POST /api/scenarios/load          {"scenario_id": "algeria-default"}

NOTE:
  Loading a scenario resets the store. Only use in development/demo environments.
*/
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/paie-engine/algeria"
	"github.com/warp/paie-engine/factory"
)

// maxCatalogBytes bounds uploaded catalogs.
const maxCatalogBytes = 4 << 20

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioResponse struct {
	Status   string               `json:"status"`
	Scenario string               `json:"scenario"`
	Result   *factory.ApplyResult `json:"result,omitempty"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "algeria-default",
		Name:        "Algerian payroll",
		Description: "SNMG, IEP, CNAS 9%/26%, IRG 2022 scale and three employees on the standard structure",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No rubriques, parameters or brackets",
	},
}

// ApplyCatalog validates and applies an uploaded catalog. Nothing is
// written when validation fails.
func (h *Handler) ApplyCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCatalogBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	var catalog *factory.Catalog
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		catalog, err = factory.ParseJSON(body)
	} else {
		catalog, err = factory.Parse(body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}

	res, err := h.Loader.Apply(r.Context(), catalog)
	if err != nil {
		writeServiceError(w, "Failed to apply catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var catalog *factory.Catalog
	switch req.ScenarioID {
	case "algeria-default":
		c, err := algeria.DefaultCatalog()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to parse default catalog", err)
			return
		}
		catalog = c
	case "empty":
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	resp := LoadScenarioResponse{Status: "loaded", Scenario: req.ScenarioID}
	if catalog != nil {
		res, err := h.Loader.Apply(ctx, catalog)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
			return
		}
		resp.Result = res
	}
	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, resp)
}
