package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"imagelab/internal/model"
	"imagelab/internal/registry"
	"imagelab/internal/service"
)

type RunHandler struct {
	registry *registry.RunRegistry
}

func NewRunHandler(reg *registry.RunRegistry) *RunHandler {
	return &RunHandler{registry: reg}
}

// ListRuns 列出全部 run，最新在前
func (h *RunHandler) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"runs":   h.registry.All(),
	})
}

// AddRun 登记一个已完成的 run。大部分字段都可以缺省，
// 缺省值和前端生成面板的默认参数保持一致
func (h *RunHandler) AddRun(c *gin.Context) {
	var req struct {
		RunID           string          `json:"run_id"`
		Timestamp       string          `json:"timestamp"`
		Model           string          `json:"model"`
		VAE             *string         `json:"vae"`
		Loras           json.RawMessage `json:"loras"`
		Controlnets     json.RawMessage `json:"controlnets"`
		Prompt          string          `json:"prompt"`
		NegativePrompt  string          `json:"negative_prompt"`
		Seed            *int64          `json:"seed"`
		Sampler         string          `json:"sampler"`
		Steps           *int            `json:"steps"`
		CfgScale        *float64        `json:"cfg_scale"`
		Width           *int            `json:"width"`
		Height          *int            `json:"height"`
		BatchSize       *int            `json:"batch_size"`
		BatchCount      *int            `json:"batch_count"`
		Workflow        json.RawMessage `json:"workflow"`
		Version         string          `json:"version"`
		GeneratedImages []string        `json:"generated_images"`
		GenerationType  string          `json:"generation_type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "No data provided",
		})
		return
	}

	run := model.RunConfig{
		RunID:           stringOr(req.RunID, uuid.NewString()),
		Timestamp:       stringOr(req.Timestamp, service.NowISO()),
		Model:           stringOr(req.Model, "unknown"),
		VAE:             req.VAE,
		Loras:           rawOr(req.Loras, `[]`),
		Controlnets:     rawOr(req.Controlnets, `[]`),
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Seed:            int64Or(req.Seed, 0),
		Sampler:         stringOr(req.Sampler, "euler"),
		Steps:           intOr(req.Steps, 20),
		CfgScale:        floatOr(req.CfgScale, 7.0),
		Width:           intOr(req.Width, 512),
		Height:          intOr(req.Height, 512),
		BatchSize:       intOr(req.BatchSize, 1),
		BatchCount:      intOr(req.BatchCount, 1),
		Workflow:        rawOr(req.Workflow, `{}`),
		Version:         stringOr(req.Version, "1.0.0"),
		GeneratedImages: req.GeneratedImages,
		GenerationType:  stringOr(req.GenerationType, model.GenTxt2Img),
	}
	if run.GeneratedImages == nil {
		run.GeneratedImages = []string{}
	}

	h.registry.Add(run)

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"run_id":  run.RunID,
		"message": "Run added successfully",
	})
}

// GetRun 按 id 取单个 run
func (h *RunHandler) GetRun(c *gin.Context) {
	run, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Run not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"run":    run,
	})
}

// DeleteRun 删除一个 run
func (h *RunHandler) DeleteRun(c *gin.Context) {
	if !h.registry.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Run not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Run deleted successfully",
	})
}

func stringOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func int64Or(v *int64, def int64) int64 {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func rawOr(v json.RawMessage, def string) json.RawMessage {
	if len(v) > 0 && string(v) != "null" {
		return v
	}
	return json.RawMessage(def)
}
