package domain

import "context"

// EventPublisher 事件发布接口。PublishInTx 配合 Outbox 模式，
// 事件记录与业务写入落在同一本地事务。
type EventPublisher interface {
	// Publish 发布一个普通事件（非事务内）
	Publish(ctx context.Context, topic string, key string, event any) error

	// PublishInTx 在事务中发布事件，核心用于 Outbox 模式
	PublishInTx(ctx context.Context, tx any, topic string, key string, event any) error
}
