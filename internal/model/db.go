package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/fachebot/csv-report-bot/internal/ent"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Open 打开 sqlite 数据库并创建表结构
func Open(ctx context.Context, path string) (*ent.Client, error) {
	client, err := ent.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_fk=1&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	if err := client.Schema.Create(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("创建数据库Schema失败: %w", err)
	}
	return client, nil
}
