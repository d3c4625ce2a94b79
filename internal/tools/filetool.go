package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	FileToolApp       = "FILETOOL"
	FileToolListFiles = "FILETOOL_LIST_FILES"
	FileToolReadFile  = "FILETOOL_READ_FILE"
)

// DefaultMaxFileBytes 单次读取的默认上限
const DefaultMaxFileBytes = 256 * 1024

type fileTool struct {
	root     string
	maxBytes int64
}

// NewFileToolkit 文件工具集，所有访问都限制在 root 目录内
func NewFileToolkit(root string, maxBytes int64) Toolkit {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	ft := &fileTool{root: root, maxBytes: maxBytes}

	return Toolkit{
		App: FileToolApp,
		Tools: []Tool{
			{
				Name:        FileToolListFiles,
				Description: "List the files available in the current working directory.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
				Handler: ft.listFiles,
			},
			{
				Name:        FileToolReadFile,
				Description: "Read the contents of a file in the current working directory.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"file_path": map[string]any{
							"type":        "string",
							"description": "Path of the file to read, e.g. csv_files/data.csv",
						},
					},
					"required": []string{"file_path"},
				},
				Handler: ft.readFile,
			},
		},
	}
}

type fileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func (ft *fileTool) listFiles(ctx context.Context, args map[string]any) (any, error) {
	entries, err := os.ReadDir(ft.root)
	if err != nil {
		return nil, fmt.Errorf("读取目录 %s 失败: %w", ft.root, err)
	}

	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Name: e.Name(),
			Path: filepath.Join(ft.root, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return map[string]any{"files": files}, nil
}

func (ft *fileTool) readFile(ctx context.Context, args map[string]any) (any, error) {
	p, err := stringArg(args, "file_path", true)
	if err != nil {
		return nil, err
	}

	path, err := ft.resolve(p)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, inputErrorf("file %s does not exist", p)
		}
		return nil, fmt.Errorf("打开文件 %s 失败: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, ft.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}

	truncated := int64(len(data)) > ft.maxBytes
	if truncated {
		data = data[:ft.maxBytes]
	}

	return map[string]any{
		"file_path": p,
		"content":   string(data),
		"truncated": truncated,
	}, nil
}

// resolve 把模型给出的路径映射到 root 目录内。
// 接受相对工作目录的路径（csv_files/data.csv）或相对 root 的文件名（data.csv）。
func (ft *fileTool) resolve(p string) (string, error) {
	rootAbs, err := filepath.Abs(ft.root)
	if err != nil {
		return "", fmt.Errorf("解析目录 %s 失败: %w", ft.root, err)
	}

	var candidates []string
	if filepath.IsAbs(p) {
		candidates = append(candidates, filepath.Clean(p))
	} else {
		if abs, err := filepath.Abs(p); err == nil {
			candidates = append(candidates, abs)
		}
		candidates = append(candidates, filepath.Join(rootAbs, p))
	}

	for _, c := range candidates {
		if within(rootAbs, c) {
			return c, nil
		}
	}
	return "", inputErrorf("access to %s is not allowed", p)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
