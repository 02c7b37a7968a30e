// Conflict HTTP handlers.
//
// This file exposes the operator endpoints of the conflict store:
//   - GET  /conflicts               (list, paginated, pending first)
//   - GET  /conflicts/stats         (counts by type and status)
//   - GET  /conflicts/{id}          (detail with both snapshots)
//   - POST /conflicts/{id}/resolve  (ignore, link or merge)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/http/middleware"
	"github.com/tbourn/go-billing-reconciler/internal/services"
)

// ResolveConflictRequest is the JSON payload of a resolution.
type ResolveConflictRequest struct {
	// Action is one of ignore, link, merge.
	Action string `json:"action" binding:"required" example:"link"`
	// Note is recorded on the conflict.
	Note string `json:"note" example:"same customer, gateway id missing locally"`
	// PrimaryEntityID selects the surviving entity of a merge.
	PrimaryEntityID string `json:"primary_entity_id,omitempty" example:"6d0c5b0e-3f7a-4c1e-9a51-8c7f6b1d2e90"`
}

// ResolveConflictResponse reports the conflict after resolution. Replayed
// is true when it was already resolved or ignored and nothing changed.
type ResolveConflictResponse struct {
	Conflict *domain.Conflict `json:"conflict"`
	Replayed bool             `json:"replayed"`
}

// ListConflictsResponse wraps a page of conflicts and pagination information.
type ListConflictsResponse struct {
	Conflicts  []domain.Conflict `json:"conflicts"`
	Pagination Pagination        `json:"pagination"`
}

// ListConflicts godoc
// @ID          listConflicts
// @Summary     List conflicts (paginated)
// @Description Pending conflicts first, newest first within a status.
// @Tags        Conflicts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true   "Operator ID"
// @Param       status         query   string  false  "Filter by status"  Enums(pending, resolving, resolved, ignored)
// @Param       type           query   string  false  "Filter by conflict type"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListConflictsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad filter"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conflicts [get]
func (h *Handlers) ListConflicts(c *gin.Context) {
	page, pageSize := pageQuery(c)
	items, total, err := h.conflicts.List(c.Request.Context(), services.ConflictFilter{
		Status:   domain.ConflictStatus(strings.TrimSpace(c.Query("status"))),
		Type:     domain.ConflictType(strings.TrimSpace(c.Query("type"))),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Conflict{}
	}
	ok(c, http.StatusOK, ListConflictsResponse{
		Conflicts:  items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ConflictStats godoc
// @ID          conflictStats
// @Summary     Conflict counts
// @Description Conflicts grouped by type and status.
// @Tags        Conflicts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
//
// @Success     200  {object}  handlers.StatsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conflicts/stats [get]
func (h *Handlers) ConflictStats(c *gin.Context) {
	rows, err := h.conflicts.Counts(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newStats(rows))
}

// GetConflict godoc
// @ID          getConflict
// @Summary     Get a conflict
// @Tags        Conflicts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
// @Param       id             path    string  true  "Conflict ID"  format(uuid)
//
// @Success     200  {object}  domain.Conflict
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Conflict not found"
// @Router      /conflicts/{id} [get]
func (h *Handlers) GetConflict(c *gin.Context) {
	cf, err := h.conflicts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cf)
}

// ResolveConflict godoc
// @ID          resolveConflict
// @Summary     Resolve a conflict
// @Description Applies ignore, link or merge. Resolving an already resolved or ignored
// @Description conflict returns the recorded resolution with replayed=true.
// @Tags        Conflicts
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
// @Param       id             path    string  true  "Conflict ID"  format(uuid)
// @Param       body           body    handlers.ResolveConflictRequest  true  "Resolution"
//
// @Success     200  {object}  handlers.ResolveConflictResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Conflict not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Action not applicable"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conflicts/{id}/resolve [post]
func (h *Handlers) ResolveConflict(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action required (ignore, link, merge)")
		return
	}

	res, err := h.conflicts.Resolve(c.Request.Context(), middleware.Operator(c), c.Param("id"), services.ResolveParams{
		Action:          domain.ResolutionAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Note:            strings.TrimSpace(req.Note),
		PrimaryEntityID: strings.TrimSpace(req.PrimaryEntityID),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ResolveConflictResponse{Conflict: res.Conflict, Replayed: res.Replayed})
}
