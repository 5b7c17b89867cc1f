package model

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"strings"
)

// RunConfig 一次已完成生成 run 的固化配置。注册表按 run_id 存储，
// loras/controlnets/workflow 是不透明 JSON 块，原样进原样出（字段顺序不动）
type RunConfig struct {
	// run 唯一标识（uuid）
	RunID string `json:"run_id"`

	// 完成时间（ISO 字符串）
	Timestamp string `json:"timestamp"`

	// 主模型
	Model string `json:"model"`

	// VAE，可以没有
	VAE *string `json:"vae"`

	// LoRA / ControlNet 配置，原样保存
	Loras       json.RawMessage `json:"loras"`
	Controlnets json.RawMessage `json:"controlnets"`

	// 提示词
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`

	// 采样参数
	Seed     int64   `json:"seed"`
	Sampler  string  `json:"sampler"`
	Steps    int     `json:"steps"`
	CfgScale float64 `json:"cfg_scale"`

	// 图片尺寸
	Width  int `json:"width"`
	Height int `json:"height"`

	// 批量设置
	BatchSize  int `json:"batch_size"`
	BatchCount int `json:"batch_count"`

	// 完整工作流配置，原样保存，只用于求哈希和归档
	Workflow json.RawMessage `json:"workflow"`

	// 应用版本
	Version string `json:"version"`

	// 本次 run 生成的图片文件名列表
	GeneratedImages []string `json:"generated_images"`

	// txt2img / img2img
	GenerationType string `json:"generation_type"`
}

// RunCSVColumns run 注册表报告 CSV 的列及固定顺序，改动即破坏性变更
func RunCSVColumns() []string {
	return []string{
		"run_id", "timestamp", "model", "vae", "prompt",
		"negative_prompt", "seed", "sampler", "steps", "cfg_scale",
		"width", "height", "batch_size", "batch_count",
		"generation_type", "image_paths", "loras", "controlnets", "workflow_hash",
	}
}

// CSVRow 按 RunCSVColumns 的顺序把 run 拍平成一行。
// 图片列表用分号连接，JSON 块缺省写 []
func (r *RunConfig) CSVRow() []string {
	vae := ""
	if r.VAE != nil {
		vae = *r.VAE
	}
	return []string{
		r.RunID,
		r.Timestamp,
		r.Model,
		vae,
		r.Prompt,
		r.NegativePrompt,
		strconv.FormatInt(r.Seed, 10),
		r.Sampler,
		strconv.Itoa(r.Steps),
		strconv.FormatFloat(r.CfgScale, 'g', -1, 64),
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		strconv.Itoa(r.BatchSize),
		strconv.Itoa(r.BatchCount),
		r.GenerationType,
		strings.Join(r.GeneratedImages, ";"),
		rawOrEmptyList(r.Loras),
		rawOrEmptyList(r.Controlnets),
		r.WorkflowHash(),
	}
}

// WorkflowHash workflow 块规范化序列化（key 排序）后的 FNV-1a 哈希，十进制字符串。
// 同一个 workflow 不管字段顺序如何，哈希恒定
func (r *RunConfig) WorkflowHash() string {
	canonical := []byte("{}")
	if len(r.Workflow) > 0 {
		var v interface{}
		if err := json.Unmarshal(r.Workflow, &v); err == nil {
			// encoding/json 对 map 按 key 排序输出，天然就是规范形式
			if b, err := json.Marshal(v); err == nil {
				canonical = b
			}
		} else {
			canonical = r.Workflow
		}
	}
	h := fnv.New64a()
	_, _ = h.Write(canonical)
	return strconv.FormatUint(h.Sum64(), 10)
}

func rawOrEmptyList(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "[]"
	}
	return s
}
