package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/pipeline"
	"github.com/fachebot/csv-report-bot/internal/scheduler"
	"github.com/fachebot/csv-report-bot/internal/server"
	"github.com/fachebot/csv-report-bot/internal/svc"
	"github.com/fachebot/csv-report-bot/internal/workflow"
)

var configFile = flag.String("f", "etc/config.yaml", "the config file")

func main() {
	flag.Parse()

	// 读取配置文件
	c, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}
	logger.Setup(c.Log)

	// 创建上传目录和数据目录
	for _, dir := range []string{c.Upload.Dir, filepath.Dir(c.Database.Path)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatalf("创建目录 %s 失败, %s", dir, err)
		}
	}

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)

	logger.Infof("[LLM] 使用模型 %s (%s)", svcCtx.LLMClient.Model(), c.LLM.BaseURL)

	// 创建工作流
	analyzer := workflow.NewAnalyzer(svcCtx.LLMClient, c.Analysis, c.Upload.Dir)
	publisher := workflow.NewPublisher(svcCtx.LLMClient, c.Publish, svcCtx.DocsWriter)
	pipe := pipeline.NewPipeline(svcCtx.UploadStore, analyzer, publisher, svcCtx.RunModel)

	// 创建并启动调度器
	schedulerInstance := scheduler.NewScheduler(svcCtx.RunModel, c)
	if err := schedulerInstance.Start(); err != nil {
		logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
	}

	// 启动 HTTP 服务
	httpServer := &http.Server{
		Addr:              c.Server.Addr,
		Handler:           server.NewServer(pipe, svcCtx.RunModel, c.Server.MaxUploadMB<<20),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("[Server] 监听 %s", c.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("[Server] 启动失败, %s", err)
		}
	}()

	// 等待程序退出
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("[Server] 关闭失败, %v", err)
	}
	schedulerInstance.Stop()
	svcCtx.Close()
	logger.Infof("服务已停止")
}
