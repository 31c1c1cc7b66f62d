// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-pdf-go/internal/bootstrap"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/handler"
	"chat-pdf-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 0. 加载 .env 中的密钥（文件不存在时忽略）
	_ = godotenv.Load()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化客户端与服务 (依赖注入)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := bootstrap.New(initCtx, &cfg)
	cancelInit()
	if err != nil {
		log.Fatal("初始化服务失败", err)
	}

	// 4. 初始化导入 seed 目录
	seedCtx, cancelSeed := context.WithCancel(context.Background())
	defer cancelSeed()
	if cfg.Server.SeedDir != "" {
		go func() {
			if _, err := bootstrap.SeedFromDir(seedCtx, cfg.Server.SeedDir, app.Ingestor); err != nil {
				log.Errorf("初始化导入失败: %v", err)
			}
		}()
	}

	// 5. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(
		handler.NewEmbedHandler(app.Ingestor, cfg.Server.MaxUploadMB),
		handler.NewChatHandler(app.Chat),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")
	cancelSeed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
