package docs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/fachebot/csv-report-bot/internal/logger"
	gdocs "google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// GoogleDocsWriter 直接调用 Google Docs API（服务账号）
type GoogleDocsWriter struct {
	service *gdocs.Service
}

func NewGoogleDocsWriter(ctx context.Context, cfg *config.GoogleDocs) (*GoogleDocsWriter, error) {
	service, err := gdocs.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(gdocs.DocumentsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 Google Docs 客户端失败: %w", err)
	}
	return &GoogleDocsWriter{service: service}, nil
}

type documentInfo struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	RevisionID string `json:"revision_id,omitempty"`
	URL        string `json:"url"`
}

func (w *GoogleDocsWriter) CreateDocument(ctx context.Context, title, markdown string) (json.RawMessage, error) {
	doc, err := w.service.Documents.Create(&gdocs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("创建文档失败: %w", err)
	}

	requests := BuildRequests(ParseMarkdown(markdown))
	if len(requests) > 0 {
		_, err = w.service.Documents.BatchUpdate(doc.DocumentId, &gdocs.BatchUpdateDocumentRequest{
			Requests: requests,
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("写入文档 %s 失败: %w", doc.DocumentId, err)
		}
	}

	logger.Infof("[GoogleDocsWriter] 创建文档成功, id: %s, title: %s", doc.DocumentId, title)
	return marshalInfo(documentInfo{
		DocumentID: doc.DocumentId,
		Title:      doc.Title,
		URL:        documentURL(doc.DocumentId),
	})
}

func (w *GoogleDocsWriter) GetDocument(ctx context.Context, id string) (json.RawMessage, error) {
	doc, err := w.service.Documents.Get(id).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("获取文档 %s 失败: %w", id, err)
	}
	return marshalInfo(documentInfo{
		DocumentID: doc.DocumentId,
		Title:      doc.Title,
		RevisionID: doc.RevisionId,
		URL:        documentURL(doc.DocumentId),
	})
}

func marshalInfo(info documentInfo) (json.RawMessage, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return data, nil
}
