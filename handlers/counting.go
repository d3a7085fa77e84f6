package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/models/reports"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CountingHandler exposes the counting service over REST.
type CountingHandler struct {
	service *models.CountingService
}

func NewCountingHandler(service *models.CountingService) *CountingHandler {
	return &CountingHandler{service: service}
}

func (h *CountingHandler) Register(r gin.IRouter) {
	r.POST("/plans", h.createPlan)
	r.GET("/plans", h.listPlans)
	r.GET("/plans/:id", h.getPlan)
	r.POST("/plans/:id/start", h.planAction(h.service.StartCountingPlan))
	r.POST("/plans/:id/complete", h.planAction(h.service.CompleteCountingPlan))
	r.POST("/plans/:id/cancel", h.planReasonAction(h.service.CancelCountingPlan))
	r.POST("/plans/:id/finalize", h.planReasonAction(h.service.FinalizeCountingPlan))
	r.POST("/plans/:id/recompute", h.planAction(h.service.RecomputePlanStatistics))
	r.POST("/plans/:id/redistribute", h.redistribute)
	r.GET("/plans/:id/export", h.exportPlan)
	r.GET("/deadlines", h.deadlines)

	r.GET("/periods/:id", h.periodAction(h.service.GetCountingPeriod))
	r.POST("/periods/:id/start", h.periodAction(h.service.StartCountingPeriod))
	r.POST("/periods/:id/complete", h.periodAction(h.service.CompleteCountingPeriod))
	r.POST("/periods/:id/recompute", h.periodAction(h.service.RecomputePeriodProgress))
	r.POST("/periods/:id/confirm", h.confirmPeriod)
	r.GET("/periods/:id/records", h.listRecords)
	r.GET("/periods/:id/user-stats", h.userStats)

	r.POST("/records", h.submitRecord)
	r.GET("/records/:id", h.recordAction(h.service.GetCountRecord))
	r.PUT("/records/:id", h.updateRecord)
	r.DELETE("/records/:id", h.recordAction(h.service.DeleteCountRecord))
	r.POST("/records/:id/review", h.reviewRecord)
	r.POST("/records/:id/correction", h.correctRecord)
}

// RegisterAssetHooks adds the endpoints the inventory module calls on asset lifecycle changes.
func (h *CountingHandler) RegisterAssetHooks(r gin.IRouter) {
	r.POST("/assets/:id/created", h.assetCreated)
	r.POST("/assets/:id/deactivated", h.assetDeactivated)
}

// writeError maps AppError kinds onto HTTP statuses with a {reason, message} body.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	appErr, ok := utils.AsAppError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"reason": "internal", "message": "internal server error"})
		return
	}
	status := http.StatusInternalServerError
	switch appErr.Kind {
	case utils.ErrorKindValidation:
		status = http.StatusBadRequest
	case utils.ErrorKindConflict:
		status = http.StatusConflict
	case utils.ErrorKindNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"reason": appErr.Reason, "message": appErr.Message})
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		writeError(c, utils.ValidationError("invalid_id", "invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, utils.ValidationError("invalid_request", "invalid request body: %v", err))
		return false
	}
	return true
}

type periodResponse struct {
	*models.CountingPeriod
	Progress models.PeriodProgress `json:"progress"`
}

func withProgress(p *models.CountingPeriod) periodResponse {
	return periodResponse{CountingPeriod: p, Progress: p.Progress(time.Now().UTC())}
}

func (h *CountingHandler) createPlan(c *gin.Context) {
	var input models.NewCountingPlan
	if !bindJSON(c, &input) {
		return
	}
	plan, err := h.service.CreateCountingPlan(c.Request.Context(), &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// listPlans returns one plan when ?year= is given, otherwise every plan (optionally by ?status=).
func (h *CountingHandler) listPlans(c *gin.Context) {
	if v := c.Query("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, utils.ValidationError("invalid_year", "invalid year %q", v))
			return
		}
		plan, err := h.service.GetCountingPlanByYear(c.Request.Context(), year)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}
	var status *models.CountingPlanStatus
	if v := c.Query("status"); v != "" {
		s := models.CountingPlanStatus(v)
		status = &s
	}
	plans, err := h.service.ListCountingPlans(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (h *CountingHandler) getPlan(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	plan, err := h.service.GetCountingPlan(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *CountingHandler) planAction(fn func(context.Context, int) (*models.CountingPlan, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		plan, err := fn(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *CountingHandler) planReasonAction(fn func(context.Context, int, string) (*models.CountingPlan, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		var req reasonRequest
		if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
			return
		}
		plan, err := fn(c.Request.Context(), id, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

func (h *CountingHandler) redistribute(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	result, err := h.service.RedistributeNewAssets(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// exportPlan answers JSON by default and an xlsx workbook for ?format=xlsx.
func (h *CountingHandler) exportPlan(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	started := time.Now()
	export, err := h.service.GetCountingPlanExport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	format := c.DefaultQuery("format", "json")
	defer reports.LogSlowReport(c.Request.Context(), config.GetLogger(), "counting_plan_export", started, logrus.Fields{"plan_id": id, "format": format})
	if format != "xlsx" {
		c.JSON(http.StatusOK, export)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=counting-plan-%d.xlsx", export.Plan.Year))
	c.Status(http.StatusOK)
	if err := reports.WriteCountingPlanExcel(c.Writer, export); err != nil {
		_ = c.Error(err)
	}
}

func (h *CountingHandler) deadlines(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, utils.ValidationError(models.ReasonInvalidDays, "invalid days %q", v))
			return
		}
		days = n
	}
	alerts, err := h.service.ListPlansNearingDeadline(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *CountingHandler) periodAction(fn func(context.Context, int) (*models.CountingPeriod, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		period, err := fn(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, withProgress(period))
	}
}

func (h *CountingHandler) confirmPeriod(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	result, err := h.service.ConfirmCountingPeriod(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":                withProgress(result.Period),
		"deactivated_asset_ids": result.DeactivatedAssetIds,
	})
}

func (h *CountingHandler) listRecords(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	filter, err := models.ParseCountRecordFilter(c.Query("filter"))
	if err != nil {
		writeError(c, err)
		return
	}
	records, err := h.service.ListCountRecords(c.Request.Context(), id, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *CountingHandler) userStats(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	stats, err := h.service.CountRecordUserStats(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *CountingHandler) submitRecord(c *gin.Context) {
	var input models.NewCountRecord
	if !bindJSON(c, &input) {
		return
	}
	record, err := h.service.SubmitCountRecord(c.Request.Context(), &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *CountingHandler) recordAction(fn func(context.Context, int) (*models.CountRecord, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		record, err := fn(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func (h *CountingHandler) updateRecord(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.CountRecordUpdate
	if !bindJSON(c, &input) {
		return
	}
	record, err := h.service.UpdateCountRecord(c.Request.Context(), id, &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type reviewRequest struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments"`
}

func (h *CountingHandler) reviewRecord(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req reviewRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.service.ReviewCountRecord(c.Request.Context(), id, req.Approved, req.Comments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *CountingHandler) correctRecord(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.CountRecordCorrectionInput
	if !bindJSON(c, &input) {
		return
	}
	record, err := h.service.ApplyCountRecordCorrection(c.Request.Context(), id, &input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// assetCreated is called by the inventory module after an asset is created.
func (h *CountingHandler) assetCreated(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	period, err := h.service.AddSingleNewAsset(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if period == nil {
		c.JSON(http.StatusOK, gin.H{"assigned": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true, "period": withProgress(period)})
}

// assetDeactivated is called by the inventory module after an asset is deactivated.
func (h *CountingHandler) assetDeactivated(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	periods, err := h.service.RemoveAssetFromPeriods(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}
