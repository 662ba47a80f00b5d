package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nvisy/internal/provider"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store 凭据存取服务
// 载荷加密后落库，任何读取路径都不落明文日志
type Store struct {
	db     *gorm.DB
	box    *cipherBox
	logger *zap.Logger
}

// NewStore 创建凭据存取服务
func NewStore(db *gorm.DB, masterKey string, logger *zap.Logger) (*Store, error) {
	box, err := newCipherBox(masterKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, box: box, logger: logger}, nil
}

// SaveRequest 保存凭据请求
type SaveRequest struct {
	Name        string
	Credentials *provider.Credentials
	Metadata    map[string]any
}

// Save 加密保存凭据
func (s *Store) Save(ctx context.Context, req *SaveRequest) (*Credential, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("凭据名称不能为空")
	}
	if req.Credentials == nil {
		return nil, fmt.Errorf("凭据内容不能为空")
	}
	if err := req.Credentials.Validate(); err != nil {
		return nil, err
	}

	plain, err := json.Marshal(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("序列化凭据载荷失败: %w", err)
	}
	ciphertext, err := s.box.seal(plain)
	if err != nil {
		return nil, err
	}

	var metadata datatypes.JSON
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化附加信息失败: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}

	row := &Credential{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Kind:       string(req.Credentials.Kind),
		Ciphertext: ciphertext,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("保存凭据失败: %w", err)
	}

	s.logger.Info("凭据已保存",
		zap.String("credential_id", row.ID),
		zap.String("kind", row.Kind),
	)
	return row, nil
}

// Get 查询单条凭据记录，不含解密载荷
func (s *Store) Get(ctx context.Context, id string) (*Credential, error) {
	var row Credential
	if err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("凭据不存在: %s", id)
		}
		return nil, fmt.Errorf("查询凭据失败: %w", err)
	}
	return &row, nil
}

// List 查询凭据列表，kind 为空时返回全部
func (s *Store) List(ctx context.Context, kind string) ([]*Credential, error) {
	query := s.db.WithContext(ctx).
		Model(&Credential{}).
		Where("deleted_at IS NULL")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var rows []*Credential
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询凭据列表失败: %w", err)
	}
	return rows, nil
}

// Resolve 取出并解密凭据载荷
// 记录类别与载荷类别不一致视为数据损坏
func (s *Store) Resolve(ctx context.Context, id string) (*provider.Credentials, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	plain, err := s.box.open(row.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("解密凭据 %s 失败: %w", id, err)
	}

	var creds provider.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("解析凭据载荷失败: %w", err)
	}
	if string(creds.Kind) != row.Kind {
		return nil, fmt.Errorf("凭据 %s 类别不一致: 记录为 %s，载荷为 %s", id, row.Kind, creds.Kind)
	}
	return &creds, nil
}

// Delete 软删除凭据
func (s *Store) Delete(ctx context.Context, id string) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(row).
		Updates(map[string]any{
			"deleted_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return fmt.Errorf("删除凭据失败: %w", err)
	}

	s.logger.Info("凭据已删除", zap.String("credential_id", id))
	return nil
}
