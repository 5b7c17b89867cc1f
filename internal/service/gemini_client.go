package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultAnalysisPrompt 前端不给提示词时用的图片分析提示词
const DefaultAnalysisPrompt = "Analyze this image and provide a detailed description. Include: what objects/people you see, the scene setting, colors, mood, style, composition, and any notable details. Be descriptive and thorough."

// GeminiClient Gemini generateContent 接口客户端，只用于图生文分析
type GeminiClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewGeminiClient(baseURL, apiKey, model string) *GeminiClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *GeminiClient) Enabled() bool {
	return c != nil && c.APIKey != ""
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// AnalyzeImage 把图片（base64，可以带 data URL 前缀）和提示词发给 Gemini，
// 返回生成的描述文本。model 为空用客户端默认模型
func (c *GeminiClient) AnalyzeImage(ctx context.Context, imageBase64, prompt, model string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("GEMINI_API_KEY not found in environment")
	}

	// 前端传的可能是 data:image/png;base64,xxx 形式，取逗号后面的部分
	if i := strings.Index(imageBase64, ","); i >= 0 {
		imageBase64 = imageBase64[i+1:]
	}
	if prompt == "" {
		prompt = DefaultAnalysisPrompt
	}
	if model == "" {
		model = c.Model
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
					{"inline_data": map[string]interface{}{
						"mime_type": "image/png",
						"data":      imageBase64,
					}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", c.APIKey)

	if geminiDebugEnabled() {
		log.Printf("[gemini] model=%s prompt=%s image_bytes=%d", model, truncate(prompt, 120), len(imageBase64))
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Gemini API error: %d - %s", resp.StatusCode, truncate(string(body), 500))
	}

	var genResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Gemini 响应里没有生成文本")
	}

	text := genResp.Candidates[0].Content.Parts[0].Text
	if geminiDebugEnabled() {
		log.Printf("[gemini] 收到生成文本 %d 字符", len(text))
	}
	return text, nil
}

func geminiDebugEnabled() bool {
	return os.Getenv("GEMINI_DEBUG") == "1"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
