package db

import (
	"context"
	"time"

	"groupchat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 10

// Connect 建立到 Postgres 的连接，容器尚未就绪时按递增间隔重试，ctx 取消即放弃。
// TranslateError 打开后唯一约束冲突以 gorm.ErrDuplicatedKey、外键冲突以 gorm.ErrForeignKeyViolated 返回。
func Connect(ctx context.Context, dsn string) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		gdb, err := open(ctx, dsn)
		if err == nil {
			return gdb, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("postgres not ready")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(300+attempt*200) * time.Millisecond):
		}
	}
	return nil, lastErr
}

func open(ctx context.Context, dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

// Migrate 迁移全部表结构；Room 的 has-many 关系会生成 ON DELETE CASCADE 外键。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Room{},
		&models.RoomMember{},
		&models.Message{},
		&models.PushToken{},
		&models.RefreshToken{},
	)
}
