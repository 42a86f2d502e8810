package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
	"github.com/KevinKickass/OpenCalibrationCore/internal/dataset"
	"github.com/KevinKickass/OpenCalibrationCore/internal/storage"
	"github.com/KevinKickass/OpenCalibrationCore/internal/types"
)

type ApplyDatasetRequest struct {
	Name string `json:"name" binding:"required"`
}

// GET /api/v1/datasets
func (s *Server) listDatasets(c *gin.Context) {
	names, err := s.lm.Datasets().List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeDataset, "Failed to list datasets", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": names})
}

// POST /api/v1/datasets/apply
func (s *Server) applyDataset(c *gin.Context) {
	var req ApplyDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	ds, err := s.lm.Datasets().Load(req.Name)
	if errors.Is(err, dataset.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeDataset, "Dataset not found", err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse(types.CodeDataset, "Invalid dataset", err.Error()))
		return
	}

	result, err := dataset.Apply(c.Request.Context(), ds, s.lm.Poller(), s.logger)
	if err != nil {
		// Teilweise angewendet: Ergebnis trotzdem liefern
		c.JSON(http.StatusMultiStatus, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/audit?variable=&operation=&limit=
func (s *Server) listAudit(c *gin.Context) {
	store := s.lm.Audit()
	if store == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeAuditDisabled, "Audit log disabled", nil))
		return
	}

	filter := storage.AuditFilter{
		Variable:  c.Query("variable"),
		Operation: calibration.Operation(c.Query("operation")),
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid limit", l))
			return
		}
		filter.Limit = n
	}

	events, err := store.ListAuditEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeStorage, "Failed to read audit log", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
