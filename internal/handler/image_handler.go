package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"imagelab/internal/service"
)

type ImageHandler struct {
	gemini          *service.GeminiClient
	comfy           *service.ComfyClient
	servedImagesDir string
	outputDir       string
}

func NewImageHandler(gemini *service.GeminiClient, comfy *service.ComfyClient, servedImagesDir, outputDir string) *ImageHandler {
	return &ImageHandler{
		gemini:          gemini,
		comfy:           comfy,
		servedImagesDir: servedImagesDir,
		outputDir:       outputDir,
	}
}

// AnalyzeImage 图生文：把前端传来的图片交给 Gemini 做分析描述。
// 响应结构保持前端已有的约定（comfy_response + generated_text）
func (h *ImageHandler) AnalyzeImage(c *gin.Context) {
	var req struct {
		InputImage string `json:"input_image"`
		Prompt     string `json:"prompt"`
		Model      string `json:"model"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "No data received",
		})
		return
	}
	if req.InputImage == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Missing required field: input_image",
		})
		return
	}

	text, err := h.gemini.AnalyzeImage(c.Request.Context(), req.InputImage, req.Prompt, req.Model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Image analysis completed successfully",
		"comfy_response": gin.H{
			"status":      "success",
			"text_output": text,
			"all_images":  []string{},
		},
		"generated_text": text,
	})
}

// Interrupt 转发中断请求给推理后端，结果只是如实上报
func (h *ImageHandler) Interrupt(c *gin.Context) {
	interrupted := h.comfy.Interrupt(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":      "received",
		"interrupted": interrupted,
	})
}

// ServeImage 按文件名提供图片，先找图片服务目录，再找输出目录
func (h *ImageHandler) ServeImage(c *gin.Context) {
	filename := c.Param("filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found: " + filename})
		return
	}

	for _, dir := range []string{h.servedImagesDir, h.outputDir} {
		path := filepath.Join(dir, filename)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Image not found: " + filename})
}
