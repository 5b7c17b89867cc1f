package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	ComfyUI ComfyUIConfig `yaml:"comfyui"`
	Gemini  GeminiConfig  `yaml:"gemini"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	// 数据根目录，默认 ./data；下面的相对路径都挂在它下面
	DataDir string `yaml:"data_dir"`
	// 前端同步下来的画廊快照文件
	GalleryFile string `yaml:"gallery_file"`
	// 已完成 run 的注册表文件
	RegistryFile string `yaml:"registry_file"`
	// 系统设置快照文件（原样并入报告的 config.json）
	SettingsFile string `yaml:"settings_file"`
	// 对外提供图片服务的目录
	ServedImagesDir string `yaml:"served_images_dir"`
	// 生成器落盘输出目录（registry 变体从这里取图）
	OutputDir string `yaml:"output_dir"`
	// 报告 zip 输出目录
	ReportsDir string `yaml:"reports_dir"`
}

type ComfyUIConfig struct {
	// 本地推理后端地址；模型列表和 interrupt 都是尽力而为
	BaseURL string `yaml:"base_url"`
}

type GeminiConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// 优先取环境变量 GEMINI_API_KEY，配置文件仅作兜底
	APIKey string `yaml:"api_key"`
}

func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 允许零配置启动，全部走默认值
			config.applyEnv()
			return config, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnv()
	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 5002},
		Storage: StorageConfig{
			DataDir:         "data",
			GalleryFile:     "temp_gallery_data.json",
			RegistryFile:    "run_registry.json",
			SettingsFile:    "settings.json",
			ServedImagesDir: "served_images",
			OutputDir:       "output",
			ReportsDir:      "reports",
		},
		ComfyUI: ComfyUIConfig{BaseURL: "http://127.0.0.1:8188"},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
		},
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
}

// GalleryPath 等路径访问器统一把相对路径挂到 DataDir 下，绝对路径原样返回
func (c *Config) GalleryPath() string  { return c.resolve(c.Storage.GalleryFile) }
func (c *Config) RegistryPath() string { return c.resolve(c.Storage.RegistryFile) }
func (c *Config) SettingsPath() string { return c.resolve(c.Storage.SettingsFile) }
func (c *Config) ServedImagesPath() string {
	return c.resolve(c.Storage.ServedImagesDir)
}
func (c *Config) OutputPath() string  { return c.resolve(c.Storage.OutputDir) }
func (c *Config) ReportsPath() string { return c.resolve(c.Storage.ReportsDir) }

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.DataDir, p)
}
