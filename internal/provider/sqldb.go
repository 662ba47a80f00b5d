package provider

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// sqlRecordWriter 基于 GORM 的关系型记录写入器，Postgres 与 MySQL 共用
type sqlRecordWriter struct {
	db    *gorm.DB
	table string
}

func newPostgresWriter(params *PostgresParams, creds *PostgresCredentials) (*sqlRecordWriter, error) {
	if params.Table == "" {
		return nil, fmt.Errorf("postgres table 不能为空")
	}
	if creds.ConnectionString == "" {
		return nil, fmt.Errorf("postgres connection_string 不能为空")
	}

	db, err := gorm.Open(postgres.Open(creds.ConnectionString), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 postgres 连接失败: %w", err)
	}

	table := params.Table
	if params.Schema != "" {
		table = params.Schema + "." + table
	}
	return &sqlRecordWriter{db: db, table: table}, nil
}

func newMysqlWriter(params *MysqlParams, creds *MysqlCredentials) (*sqlRecordWriter, error) {
	if params.Table == "" {
		return nil, fmt.Errorf("mysql table 不能为空")
	}
	if creds.ConnectionString == "" {
		return nil, fmt.Errorf("mysql connection_string 不能为空")
	}

	db, err := gorm.Open(mysql.Open(creds.ConnectionString), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 mysql 连接失败: %w", err)
	}

	table := params.Table
	if params.Database != "" {
		table = params.Database + "." + table
	}
	return &sqlRecordWriter{db: db, table: table}, nil
}

// WriteRecords 批量插入记录，空字段名会被拒绝
func (w *sqlRecordWriter) WriteRecords(ctx context.Context, records []*RecordData) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if len(r.Fields) == 0 {
			continue
		}
		for name := range r.Fields {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("记录包含空字段名")
			}
		}
		rows = append(rows, r.Fields)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := w.db.WithContext(ctx).Table(w.table).Create(rows).Error; err != nil {
		return fmt.Errorf("批量插入记录失败: %w", err)
	}
	return nil
}
