package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-billing-reconciler/internal/services"
)

// RecordSyncRun godoc
// @ID          recordSyncRun
// @Summary     Report an outbound sync attempt
// @Description Stores one call the gateway client made; feeds the failed-sync and rate-limit probes.
// @Description A 429 http_status counts as rate limited.
// @Tags        Operations
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator or client ID"
// @Param       body           body    services.SyncRunParams  true  "Sync attempt"
//
// @Success     201  {object}  domain.SyncRun
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /sync-runs [post]
func (h *Handlers) RecordSyncRun(c *gin.Context) {
	var req services.SyncRunParams
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	run, err := h.syncs.Record(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, run)
}

// RunProbes godoc
// @ID          runProbes
// @Summary     Run the health probes now
// @Description Evaluates every probe once and raises alerts for readings over threshold.
// @Description Probe errors are reported per probe and never fail the request.
// @Tags        Operations
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
//
// @Success     200  {object}  services.ProbeReport
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Router      /probes/run [post]
func (h *Handlers) RunProbes(c *gin.Context) {
	ok(c, http.StatusOK, h.probes.RunAll(c.Request.Context()))
}
