package docs

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	gdocs "google.golang.org/api/docs/v1"
)

type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockBullet
	BlockNumbered
)

// Block 文档中的一个段落
type Block struct {
	Kind  BlockKind
	Level int // 标题级别，仅 BlockHeading 有效
	Text  string
}

var mdParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// ParseMarkdown 把 Markdown 拆成段落序列，内联格式只保留文字
func ParseMarkdown(src string) []Block {
	source := []byte(src)
	doc := mdParser.Parser().Parse(text.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		blocks = appendBlocks(blocks, n, source)
	}
	return blocks
}

func appendBlocks(blocks []Block, n ast.Node, source []byte) []Block {
	switch v := n.(type) {
	case *ast.Heading:
		return appendBlock(blocks, Block{Kind: BlockHeading, Level: v.Level, Text: inlineText(v, source)})
	case *ast.List:
		return appendList(blocks, v, source)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			blocks = appendBlock(blocks, Block{Kind: BlockParagraph, Text: strings.TrimRight(string(seg.Value(source)), "\r\n")})
		}
		return blocks
	case *ast.Blockquote:
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			blocks = appendBlocks(blocks, c, source)
		}
		return blocks
	case *east.Table:
		for row := v.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, strings.TrimSpace(inlineText(cell, source)))
			}
			blocks = appendBlock(blocks, Block{Kind: BlockParagraph, Text: strings.Join(cells, " | ")})
		}
		return blocks
	case *ast.ThematicBreak, *ast.HTMLBlock:
		return blocks
	default:
		return appendBlock(blocks, Block{Kind: BlockParagraph, Text: inlineText(n, source)})
	}
}

func appendList(blocks []Block, list *ast.List, source []byte) []Block {
	kind := BlockBullet
	if list.IsOrdered() {
		kind = BlockNumbered
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				blocks = appendList(blocks, nested, source)
				continue
			}
			blocks = appendBlock(blocks, Block{Kind: kind, Text: inlineText(c, source)})
		}
	}
	return blocks
}

func appendBlock(blocks []Block, b Block) []Block {
	b.Text = strings.TrimSpace(b.Text)
	if b.Text == "" {
		return blocks
	}
	return append(blocks, b)
}

func inlineText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.URL(source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// BuildRequests 生成 batchUpdate 请求：先在文档开头插入全部文字，再按段落设置样式。
// 索引按 UTF-16 码元计算，正文从 1 开始。
func BuildRequests(blocks []Block) []*gdocs.Request {
	if len(blocks) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		sb.WriteByte('\n')
	}

	requests := []*gdocs.Request{{
		InsertText: &gdocs.InsertTextRequest{
			Location: &gdocs.Location{Index: 1},
			Text:     sb.String(),
		},
	}}

	var bullets []*gdocs.Request
	index := int64(1)
	for _, b := range blocks {
		length := utf16Len(b.Text) + 1
		rng := &gdocs.Range{StartIndex: index, EndIndex: index + length}
		index += length

		switch b.Kind {
		case BlockHeading:
			level := b.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			requests = append(requests, &gdocs.Request{
				UpdateParagraphStyle: &gdocs.UpdateParagraphStyleRequest{
					Range:          rng,
					ParagraphStyle: &gdocs.ParagraphStyle{NamedStyleType: fmt.Sprintf("HEADING_%d", level)},
					Fields:         "namedStyleType",
				},
			})
		case BlockBullet:
			bullets = append(bullets, &gdocs.Request{
				CreateParagraphBullets: &gdocs.CreateParagraphBulletsRequest{
					Range:        rng,
					BulletPreset: "BULLET_DISC_CIRCLE_SQUARE",
				},
			})
		case BlockNumbered:
			bullets = append(bullets, &gdocs.Request{
				CreateParagraphBullets: &gdocs.CreateParagraphBulletsRequest{
					Range:        rng,
					BulletPreset: "NUMBERED_DECIMAL_ALPHA_ROMAN",
				},
			})
		}
	}
	return append(requests, bullets...)
}

func utf16Len(s string) int64 {
	return int64(len(utf16.Encode([]rune(s))))
}
