package service

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// ComfyClient 本地推理后端（ComfyUI）客户端。后端很可能根本没在跑，
// 所以这里的每个调用都是尽力而为：拿不到就给空结果，绝不把错误
// 传染给报告流程
type ComfyClient struct {
	baseURL string
	http    *http.Client
}

func NewComfyClient(baseURL string) *ComfyClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &ComfyClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *ComfyClient) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// ModelsInfo 可用模型清单，进报告的 config.json
type ModelsInfo struct {
	Checkpoints []string `json:"checkpoints"`
	Loras       []string `json:"loras"`
	Controlnet  []string `json:"controlnet"`
}

// AvailableModels 拉取 checkpoint 模型列表。任何失败都返回空清单。
// LoRA / ControlNet 的列表接口后端还没有，先固定为空
func (c *ComfyClient) AvailableModels(ctx context.Context) ModelsInfo {
	info := ModelsInfo{
		Checkpoints: []string{},
		Loras:       []string{},
		Controlnet:  []string{},
	}
	if !c.Enabled() {
		return info
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/checkpoints", nil)
	if err != nil {
		return info
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if comfyDebugEnabled() {
			log.Printf("[comfy] 拉取模型列表失败: %v", err)
		}
		return info
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info
	}

	raw, _ := io.ReadAll(resp.Body)
	// 正常是字符串数组；个别版本会混进对象，这里只收字符串
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return info
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			info.Checkpoints = append(info.Checkpoints, s)
		}
	}
	if comfyDebugEnabled() {
		log.Printf("[comfy] 模型列表 checkpoints=%d", len(info.Checkpoints))
	}
	return info
}

// Interrupt 请求后端中断当前生成。成功与否只体现在返回值上
func (c *ComfyClient) Interrupt(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if comfyDebugEnabled() {
			log.Printf("[comfy] interrupt 失败: %v", err)
		}
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func comfyDebugEnabled() bool {
	return os.Getenv("COMFY_DEBUG") == "1"
}
