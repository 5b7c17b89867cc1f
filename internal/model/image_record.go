package model

import (
	"strconv"
	"strings"
)

// 生成类型。画廊快照的顶层 key 和 CSV 的 generation_type 列都用这些值
const (
	GenTxt2Img = "txt2img"
	GenImg2Img = "img2img"
	GenExtras  = "extras"
)

// ImageRecord 报告 CSV 的一行，对应一张已生成的图片
type ImageRecord struct {
	// 图片唯一标识（前端生成，扫描兜底时为 scanned_<文件名>_<mtime>）
	ID string `json:"id"`

	// 图片文件名
	Filename string `json:"filename"`

	// zip 包内路径，固定为 grids/<generation_type>/<filename>
	RelativePath string `json:"relative_path"`

	// 正向提示词
	Prompt string `json:"prompt"`

	// 负向提示词
	NegativePrompt string `json:"negative_prompt"`

	// 使用的模型
	ModelName string `json:"model_name"`

	// 采样器
	SamplerName string `json:"sampler_name"`

	// 采样步数
	Steps int `json:"steps"`

	// CFG 强度
	CfgScale float64 `json:"cfg_scale"`

	// 图片尺寸
	Width  int `json:"width"`
	Height int `json:"height"`

	// 随机种子，未知时为 -1
	Seed int64 `json:"seed"`

	// 生成时间，保持前端给的原始字符串（数字时间戳按原样转成字符串）
	Timestamp string `json:"timestamp"`

	// txt2img / img2img / extras
	GenerationType string `json:"generation_type"`

	// 在同类型列表里的序号
	BatchIndex int `json:"batch_index"`

	// 以下为可选列，缺省时 CSV 里写空串
	DenoisingStrength *float64 `json:"denoising_strength,omitempty"`

	// 输入图路径，有 input_image 时为 grids/input_images/<filename>
	InputImagePath string `json:"input_image_path,omitempty"`

	// LoRA / ControlNet 配置的 JSON 串
	LoraModels     string `json:"lora_models,omitempty"`
	ControlnetInfo string `json:"controlnet_info,omitempty"`

	// 文件大小（字节）
	FileSizeBytes *int64 `json:"file_size_bytes,omitempty"`
}

// RequiredColumns 必需列及其固定顺序。schema 校验和空 CSV 的表头都以它为准，
// 任何改动都是破坏性变更
func RequiredColumns() []string {
	return []string{
		"id", "filename", "relative_path", "prompt", "negative_prompt",
		"model_name", "sampler_name", "steps", "cfg_scale", "width",
		"height", "seed", "timestamp", "generation_type", "batch_index",
	}
}

// AllColumns 非空 CSV 的完整表头：必需列在前，可选列按声明顺序在后
func AllColumns() []string {
	return append(RequiredColumns(),
		"denoising_strength", "input_image_path", "lora_models",
		"controlnet_info", "file_size_bytes",
	)
}

// CSVRow 按 AllColumns 的顺序渲染一行
func (r *ImageRecord) CSVRow() []string {
	denoising := ""
	if r.DenoisingStrength != nil {
		denoising = strconv.FormatFloat(*r.DenoisingStrength, 'g', -1, 64)
	}
	fileSize := ""
	if r.FileSizeBytes != nil {
		fileSize = strconv.FormatInt(*r.FileSizeBytes, 10)
	}
	return []string{
		r.ID,
		r.Filename,
		r.RelativePath,
		r.Prompt,
		r.NegativePrompt,
		r.ModelName,
		r.SamplerName,
		strconv.Itoa(r.Steps),
		strconv.FormatFloat(r.CfgScale, 'g', -1, 64),
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		strconv.FormatInt(r.Seed, 10),
		r.Timestamp,
		r.GenerationType,
		strconv.Itoa(r.BatchIndex),
		denoising,
		r.InputImagePath,
		r.LoraModels,
		r.ControlnetInfo,
		fileSize,
	}
}

// ClassifyFilename 扫描兜底时按文件名关键字猜生成类型。
// 只是启发式，分错可以接受，永远不报错
func ClassifyFilename(filename string) string {
	name := strings.ToLower(filename)
	for _, kw := range []string{"img2img", "controlnet"} {
		if strings.Contains(name, kw) {
			return GenImg2Img
		}
	}
	for _, kw := range []string{"upscaled", "extras", "enhanced"} {
		if strings.Contains(name, kw) {
			return GenExtras
		}
	}
	return GenTxt2Img
}

// IsImageFile 扫描时认可的图片扩展名
func IsImageFile(filename string) bool {
	name := strings.ToLower(filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
