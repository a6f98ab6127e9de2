package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat-studio-core/internal/config"
	"chat-studio-core/internal/handler"
	"chat-studio-core/internal/provider"
	"chat-studio-core/internal/service"
	"chat-studio-core/internal/storage"
	"chat-studio-core/internal/tools"
	"chat-studio-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newStorage(cfg)
	defer store.Close()

	toolRegistry, closeTools := newTools(ctx, cfg)
	defer closeTools()

	// 初始化服务
	chatService := service.NewChatService(store, newProviders(cfg), toolRegistry, cfg)
	go chatService.Run(ctx, cfg.Storage.BackupInterval)

	// 初始化处理器
	chatHandler := handler.NewChatHandler(chatService, cfg.Server.HeartbeatInterval)

	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(cfg, chatHandler)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	<-ctx.Done()

	logger.Info("服务器正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func newStorage(cfg *config.Config) storage.Storage {
	store := storage.New(cfg.Storage.Type, cfg.Storage.DataDir, cfg.Storage.CacheSize)
	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize %s storage, falling back to memory: %v", cfg.Storage.Type, err)
		store = storage.NewMemoryStorage()
		_ = store.Init()
	}
	logger.Infof("Using %s storage", cfg.Storage.Type)
	return store
}

func newProviders(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.OpenAI.APIKey != "" && len(cfg.OpenAI.Models) > 0 {
		registry.Register(provider.NewOpenAIProvider(provider.OpenAIConfig{
			ProviderID:   cfg.OpenAI.ProviderID,
			ProviderName: cfg.OpenAI.ProviderName,
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Models:       cfg.OpenAI.Models,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Temperature:  cfg.OpenAI.Temperature,
		}))
		logger.Infof("Registered provider %s with %d models", cfg.OpenAI.ProviderID, len(cfg.OpenAI.Models))
	}

	registerEino(registry, provider.EinoKindArk, "doubao", cfg.Doubao)
	registerEino(registry, provider.EinoKindQwen, "qwen", cfg.Qwen)

	// 没有其他可用的提供商时总是启用 echo
	if cfg.Echo.Enabled || len(registry.List()) == 0 {
		registry.Register(provider.NewEchoProvider(cfg.Echo.ChunkSize, cfg.Echo.Delay, cfg.Echo.Think))
	}
	return registry
}

func registerEino(registry *provider.Registry, kind, id string, c config.EinoConfig) {
	if c.APIKey == "" || len(c.Models) == 0 {
		return
	}
	p, err := provider.NewEinoProvider(provider.EinoConfig{
		Kind:         kind,
		ProviderID:   id,
		ProviderName: c.ProviderName,
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Models:       c.Models,
		MaxTokens:    c.MaxTokens,
		Temperature:  c.Temperature,
		Timeout:      c.Timeout,
	})
	if err != nil {
		logger.Errorf("Failed to create provider %s: %v", id, err)
		return
	}
	registry.Register(p)
	logger.Infof("Registered provider %s with %d models", id, len(c.Models))
}

func newTools(ctx context.Context, cfg *config.Config) (*tools.Registry, func()) {
	registry := tools.NewRegistry()
	if cfg.Tools.Builtin {
		tools.RegisterBuiltin(registry)
	}

	var closers []func() error
	for _, server := range cfg.Tools.RemoteServers {
		closeFn, err := tools.ConnectRemote(ctx, registry, server)
		if err != nil {
			logger.Warnf("Failed to connect MCP server %s: %v", server.Name, err)
			continue
		}
		closers = append(closers, closeFn)
	}
	logger.Infof("Loaded %d tools", len(registry.List()))

	return registry, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warnf("Failed to close MCP client: %v", err)
			}
		}
	}
}
