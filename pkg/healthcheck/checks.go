// Package healthcheck содержит проверки готовности зависимостей.
// Проверки подключаются к серверу метрик как readiness-пробы.
package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CheckMySQL возвращает проверку доступности MySQL.
func CheckMySQL(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("ошибка получения sql.DB: %w", err)
		}

		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("MySQL недоступен: %w", err)
		}

		return nil
	}
}

// CheckRedis возвращает проверку доступности Redis.
func CheckRedis(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis недоступен: %w", err)
		}

		return nil
	}
}
