package service

import (
	"imagelab/internal/config"
	"imagelab/internal/registry"
)

type ServiceContext struct {
	Config        *config.Config
	Registry      *registry.RunRegistry
	Gallery       *GalleryStore
	GallerySource *GallerySource
	Comfy         *ComfyClient
	Gemini        *GeminiClient
	Reports       *ReportGenerator
}

func NewServiceContext(cfg *config.Config) *ServiceContext {
	comfyClient := NewComfyClient(cfg.ComfyUI.BaseURL)
	geminiClient := NewGeminiClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model)
	galleryStore := NewGalleryStore(cfg.GalleryPath(), cfg.ServedImagesPath())
	runRegistry := registry.New(cfg.RegistryPath())

	return &ServiceContext{
		Config:        cfg,
		Registry:      runRegistry,
		Gallery:       galleryStore,
		GallerySource: NewGallerySource(galleryStore, cfg.ServedImagesPath()),
		Comfy:         comfyClient,
		Gemini:        geminiClient,
		Reports: NewReportGenerator(
			comfyClient,
			cfg.SettingsPath(),
			cfg.ReportsPath(),
			cfg.ServedImagesPath(),
			cfg.OutputPath(),
		),
	}
}
