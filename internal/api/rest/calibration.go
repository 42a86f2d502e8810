package rest

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenCalibrationCore/internal/auth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
	"github.com/KevinKickass/OpenCalibrationCore/internal/conversion"
	"github.com/KevinKickass/OpenCalibrationCore/internal/signal"
	"github.com/KevinKickass/OpenCalibrationCore/internal/types"
)

type WriteVariableRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

type SignalRequest struct {
	SignalName  string      `json:"signal_name" binding:"required"`
	SignalValue interface{} `json:"signal_value"`
}

type SignalResult struct {
	SignalName string `json:"signal_name"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type SignalValue struct {
	Value   interface{}   `json:"value"`
	History []interface{} `json:"history"`
}

// jsonValue replaces NaN and ±Inf, which JSON cannot carry, with null.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = jsonValue(f)
		}
		return out
	}
	return v
}

// calibrationError maps session errors to HTTP responses.
func calibrationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calibration.ErrUnknownVariable):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeUnknownVariable, "Unknown variable", err.Error()))
	case errors.Is(err, calibration.ErrNotCharacteristic),
		errors.Is(err, conversion.ErrOutOfRange):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeInvalidValue, "Variable cannot be written", err.Error()))
	case errors.Is(err, calibration.ErrNoAddress),
		errors.Is(err, calibration.ErrInvalidAddress),
		errors.Is(err, calibration.ErrNoRecordLayout),
		errors.Is(err, calibration.ErrUnknownCompuMethod):
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse(types.CodeUnresolvable, "Variable cannot be resolved", err.Error()))
	case errors.Is(err, calibration.ErrNotLoaded):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNotLoaded, "Descriptor not loaded", err.Error()))
	case errors.Is(err, calibration.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNotConnected, "ECU not reachable", err.Error()))
	default:
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.CodeTransport, "Transfer failed", err.Error()))
	}
}

// GET /api/v1/variables/:name
func (s *Server) readVariable(c *gin.Context) {
	reading, err := s.lm.Poller().Read(c.Request.Context(), c.Param("name"))
	if err != nil {
		calibrationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  reading.Name,
		"value": jsonValue(reading.Value()),
		"unit":  reading.Unit,
	})
}

// PUT /api/v1/variables/:name
func (s *Server) writeVariable(c *gin.Context) {
	var req WriteVariableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	name := c.Param("name")
	if err := s.lm.Poller().Write(c.Request.Context(), name, *req.Value); err != nil {
		calibrationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": *req.Value})
}

// GET /api/v1/signals?names=a,b
func (s *Server) getSignals(c *gin.Context) {
	registry := s.lm.Poller().Registry()

	var names []string
	if q := c.Query("names"); q != "" {
		names = strings.Split(q, ",")
	} else {
		names = registry.Names()
	}

	out := make(map[string]SignalValue, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		value, ok := registry.Get(name)
		if !ok {
			continue
		}
		history := registry.History(name)
		for i := range history {
			history[i] = jsonValue(history[i])
		}
		out[name] = SignalValue{Value: jsonValue(value), History: history}
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/v1/signals
func (s *Server) postSignals(c *gin.Context) {
	var req []SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	results := make([]SignalResult, 0, len(req))
	for _, r := range req {
		res := SignalResult{SignalName: r.SignalName, Success: true}

		if strings.HasPrefix(r.SignalName, signal.WritePrefix) && !auth.HasPermission(c, auth.PermTechnician) {
			res.Success = false
			res.Error = "insufficient permissions"
		} else if err := s.lm.Poller().HandleSignal(c.Request.Context(), r.SignalName, r.SignalValue); err != nil {
			res.Success = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	c.JSON(http.StatusOK, results)
}

// GET /api/v1/descriptors/:name
func (s *Server) getDescriptor(c *gin.Context) {
	p := s.lm.Poller()
	if err := p.EnsureLoaded(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNotLoaded, "Descriptor not loaded", err.Error()))
		return
	}

	info, err := p.Session().Resolve(c.Param("name"))
	if err != nil {
		calibrationError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /api/v1/a2l/protocol
func (s *Server) getProtocol(c *gin.Context) {
	p := s.lm.Poller()
	if err := p.EnsureLoaded(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNotLoaded, "Descriptor not loaded", err.Error()))
		return
	}

	tables := p.Session().Tables()
	c.JSON(http.StatusOK, gin.H{
		"version":  tables.Version,
		"vendor":   tables.Vendor,
		"protocol": tables.Protocol,
	})
}

// POST /api/v1/a2l/reload
func (s *Server) reloadDescriptor(c *gin.Context) {
	if err := s.lm.ReloadDescriptor(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeReloadFailed, "Reload failed", err.Error()))
		return
	}

	tables := s.lm.Poller().Session().Tables()
	c.JSON(http.StatusOK, gin.H{
		"message":         "descriptor reloaded",
		"measurements":    len(tables.Measurements),
		"characteristics": len(tables.Characteristics),
		"dropped":         len(tables.Dropped),
	})
}
