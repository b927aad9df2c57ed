package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/crucial707/juport/internal/scheduler"
)

const maxPreviewFires = 20

// CronHandler checks cron expressions for schedule forms.
type CronHandler struct {
	// Now is time.Now when nil.
	Now func() time.Time
}

type cronResult struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	NextRuns    []time.Time `json:"next_runs,omitempty"`
	PreviousRun *time.Time  `json:"previous_run,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ValidateCron answers 200 with "valid" and, when valid, the next fire times.
// Body: {"cron_expr": "0 9 * * 1-5", "timezone": "Europe/Rome", "count": 5}.
func (h *CronHandler) ValidateCron(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CronExpr string `json:"cron_expr" validate:"required"`
		Timezone string `json:"timezone"`
		Count    int    `json:"count" validate:"omitempty,min=1,max=20"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validate.Struct(input); err != nil {
		JSONValidationError(w, "validation failed", validationFields(err), http.StatusBadRequest)
		return
	}
	if input.Count == 0 {
		input.Count = 5
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	fires, err := scheduler.NextFires(input.CronExpr, input.Timezone, now, min(input.Count, maxPreviewFires))
	if err != nil {
		writeJSON(w, http.StatusOK, cronResult{Valid: false, Error: err.Error()})
		return
	}
	res := cronResult{Valid: true, Timezone: input.Timezone, NextRuns: fires}
	if res.Timezone == "" {
		res.Timezone = "UTC"
	}
	if prev, ok, err := scheduler.PreviousFire(input.CronExpr, input.Timezone, now); err == nil && ok {
		res.PreviousRun = &prev
	}
	if len(fires) > 0 {
		res.Description = "Next execution: " + fires[0].Format("2006-01-02 15:04:05 MST")
	}
	writeJSON(w, http.StatusOK, res)
}
