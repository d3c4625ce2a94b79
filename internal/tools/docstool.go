package tools

import (
	"context"

	"github.com/fachebot/csv-report-bot/internal/docs"
)

const GoogleDocsApp = "GOOGLEDOCS"

// NewDocsToolkit Google Docs 工具集，实际请求由 writer 完成
func NewDocsToolkit(writer docs.Writer) Toolkit {
	return Toolkit{
		App: GoogleDocsApp,
		Tools: []Tool{
			{
				Name:        docs.ActionCreateDocumentMarkdown,
				Description: "Create a new Google Document with the given title, using markdown text as its content.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{
							"type":        "string",
							"description": "Title of the new document",
						},
						"markdown_text": map[string]any{
							"type":        "string",
							"description": "Content of the document in markdown",
						},
					},
					"required": []string{"title", "markdown_text"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					title, err := stringArg(args, "title", true)
					if err != nil {
						return nil, err
					}
					text, err := stringArg(args, "markdown_text", false)
					if err != nil {
						return nil, err
					}
					return writer.CreateDocument(ctx, title, text)
				},
			},
			{
				Name:        docs.ActionGetDocumentByID,
				Description: "Retrieve an existing Google Document by its id.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "Document id",
						},
					},
					"required": []string{"id"},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					id, err := stringArg(args, "id", true)
					if err != nil {
						return nil, err
					}
					return writer.GetDocument(ctx, id)
				},
			},
		},
	}
}
