package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// 文件命名方式
const (
	NamingOriginal = "original"
	NamingUUID     = "uuid"
)

// ErrInvalidFilename 文件名为空或包含路径成分
var ErrInvalidFilename = errors.New("invalid filename")

// File 已保存的上传文件
type File struct {
	ID          string
	Filename    string // 客户端提供的原始文件名
	StoragePath string
	Size        int64
	SHA256      string
}

// Store 把上传内容原样写入目录。目录需预先存在
type Store struct {
	dir    string
	naming string
}

func NewStore(dir, naming string) *Store {
	if naming == "" {
		naming = NamingOriginal
	}
	return &Store{dir: dir, naming: naming}
}

func (s *Store) Dir() string {
	return s.dir
}

// Save 流式写入文件；original 模式下同名文件被覆盖
func (s *Store) Save(filename string, r io.Reader) (*File, error) {
	id := uuid.NewString()
	name, err := s.storageName(id, filename)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建文件 %s 失败: %w", path, err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("写入文件 %s 失败: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("关闭文件 %s 失败: %w", path, err)
	}

	return &File{
		ID:          id,
		Filename:    filename,
		StoragePath: path,
		Size:        size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (s *Store) storageName(id, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	if s.naming == NamingUUID {
		return id + strings.ToLower(filepath.Ext(filename)), nil
	}
	return filename, nil
}

// ValidateFilename 拒绝空名、"."、".." 以及包含路径分隔符或 NUL 的文件名
func ValidateFilename(filename string) error {
	switch {
	case strings.TrimSpace(filename) == "":
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	case filename == "." || filename == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	case strings.ContainsAny(filename, "/\\\x00"):
		return fmt.Errorf("%w: %q contains path separators", ErrInvalidFilename, filename)
	}
	return nil
}
