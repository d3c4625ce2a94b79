package docs

import (
	"context"
	"encoding/json"
)

// Writer 文档后端。返回值为后端原始响应，原样回传给模型
type Writer interface {
	CreateDocument(ctx context.Context, title, markdown string) (json.RawMessage, error)
	GetDocument(ctx context.Context, id string) (json.RawMessage, error)
}

// Google Docs 动作标识，与 Composio 的工具 slug 一致
const (
	ActionCreateDocumentMarkdown = "GOOGLEDOCS_CREATE_DOCUMENT_MARKDOWN"
	ActionGetDocumentByID        = "GOOGLEDOCS_GET_DOCUMENT_BY_ID"
)

func documentURL(id string) string {
	return "https://docs.google.com/document/d/" + id + "/edit"
}
