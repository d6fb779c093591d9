package storage

import (
	"context"

	"netsparrow/pkg/model"
)

// Store 保存 agent 上报的检测记录。sqlite 和 duckdb 两种实现行为一致。
type Store interface {
	Insert(ctx context.Context, d *model.Detection) error
	// QueryByIP 返回 src、dst 或主体地址等于 ip 的记录，按时间倒序
	QueryByIP(ctx context.Context, ip string, limit int) ([]model.Detection, error)
	Recent(ctx context.Context, limit int) ([]model.Detection, error)
	Close() error
}
