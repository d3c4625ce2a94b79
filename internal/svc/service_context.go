package svc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/docs"
	"github.com/fachebot/csv-report-bot/internal/ent"
	"github.com/fachebot/csv-report-bot/internal/llm"
	"github.com/fachebot/csv-report-bot/internal/logger"
	"github.com/fachebot/csv-report-bot/internal/model"
	"github.com/fachebot/csv-report-bot/internal/upload"

	"golang.org/x/net/proxy"
)

type ServiceContext struct {
	Config         *config.Config
	DbClient       *ent.Client
	TransportProxy *http.Transport
	RunModel       *model.RunModel
	LLMClient      *llm.Client
	UploadStore    *upload.Store
	DocsWriter     docs.Writer
}

func NewServiceContext(c *config.Config) *ServiceContext {
	ctx := context.Background()

	// 创建数据库连接
	client, err := model.Open(ctx, c.Database.Path)
	if err != nil {
		logger.Fatalf("打开数据库失败, %v", err)
	}

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	// 创建文档后端
	var writer docs.Writer
	switch c.Publish.Backend {
	case "googledocs":
		w, err := docs.NewGoogleDocsWriter(ctx, &c.GoogleDocs)
		if err != nil {
			logger.Fatalf("创建 Google Docs 客户端失败, %v", err)
		}
		writer = w
	default:
		writer = docs.NewComposioClient(&c.Composio, transportProxy)
	}
	logger.Infof("[Svc] 文档后端: %s", c.Publish.Backend)

	svcCtx := &ServiceContext{
		Config:         c,
		DbClient:       client,
		TransportProxy: transportProxy,
		RunModel:       model.NewRunModel(client.Run),
		LLMClient:      llm.NewClient(&c.LLM, transportProxy),
		UploadStore:    upload.NewStore(c.Upload.Dir, c.Upload.NamingMode),
		DocsWriter:     writer,
	}
	return svcCtx
}

func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.DbClient.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
