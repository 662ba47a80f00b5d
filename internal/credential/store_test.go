package credential

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"nvisy/internal/provider"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testMasterKey = "6162636465666768696a6b6c6d6e6f707172737475767778797a313233343536"

// initTestDB 创建内存数据库用于测试
func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:credential_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(initTestDB(t), testMasterKey, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func s3Credentials() *provider.Credentials {
	return &provider.Credentials{
		Kind: provider.KindS3,
		S3: &provider.S3Credentials{
			Region:          "us-east-1",
			AccessKeyID:     "AKIAEXAMPLE",
			SecretAccessKey: "secret",
		},
	}
}

func TestStoreSaveResolveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Save(ctx, &SaveRequest{
		Name:        "生产环境对象存储",
		Credentials: s3Credentials(),
		Metadata:    map[string]any{"env": "prod"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, row.ID)
	require.Equal(t, "s3", row.Kind)

	// 密文不应包含明文片段
	if strings.Contains(string(row.Ciphertext), "AKIAEXAMPLE") {
		t.Fatal("密文泄露了明文内容")
	}

	creds, err := store.Resolve(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, provider.KindS3, creds.Kind)
	require.NotNil(t, creds.S3)
	require.Equal(t, "AKIAEXAMPLE", creds.S3.AccessKeyID)
	require.Equal(t, "secret", creds.S3.SecretAccessKey)
}

func TestStoreResolveTamperedCiphertext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Save(ctx, &SaveRequest{Name: "s3", Credentials: s3Credentials()})
	require.NoError(t, err)

	tampered := make([]byte, len(row.Ciphertext))
	copy(tampered, row.Ciphertext)
	tampered[len(tampered)-1] ^= 0xFF
	require.NoError(t, store.db.Model(&Credential{}).
		Where("id = ?", row.ID).
		Update("ciphertext", tampered).Error)

	if _, err := store.Resolve(ctx, row.ID); err == nil {
		t.Fatal("篡改后的密文应当解密失败")
	}
}

func TestStoreResolveKindInconsistency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Save(ctx, &SaveRequest{Name: "s3", Credentials: s3Credentials()})
	require.NoError(t, err)

	// 记录类别被改动而载荷未变，视为数据损坏
	require.NoError(t, store.db.Model(&Credential{}).
		Where("id = ?", row.ID).
		Update("kind", "postgres").Error)

	_, err = store.Resolve(ctx, row.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "postgres")
	require.Contains(t, err.Error(), "s3")
}

func TestStoreSaveRejectsInvalidPayload(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), &SaveRequest{
		Name:        "缺变体",
		Credentials: &provider.Credentials{Kind: provider.KindS3},
	})
	if err == nil {
		t.Fatal("缺少变体字段的凭据应当拒绝保存")
	}

	_, err = store.Save(context.Background(), &SaveRequest{Name: "空载荷"})
	require.Error(t, err)
}

func TestStoreDeleteHidesCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Save(ctx, &SaveRequest{Name: "s3", Credentials: s3Credentials()})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, row.ID))

	if _, err := store.Get(ctx, row.ID); err == nil {
		t.Fatal("已删除的凭据不应可见")
	}
	if _, err := store.Resolve(ctx, row.ID); err == nil {
		t.Fatal("已删除的凭据不应可解密")
	}

	rows, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStoreListFiltersByKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, &SaveRequest{Name: "s3", Credentials: s3Credentials()})
	require.NoError(t, err)
	_, err = store.Save(ctx, &SaveRequest{
		Name: "主库",
		Credentials: &provider.Credentials{
			Kind:     provider.KindPostgres,
			Postgres: &provider.PostgresCredentials{ConnectionString: "postgres://localhost/db"},
		},
	})
	require.NoError(t, err)

	rows, err := store.List(ctx, "postgres")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "主库", rows[0].Name)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestNewStoreRequiresMasterKey(t *testing.T) {
	if _, err := NewStore(initTestDB(t), "  ", zaptest.NewLogger(t)); err == nil {
		t.Fatal("空主密钥应当拒绝")
	}
}

func TestCipherBoxPassphraseDerivation(t *testing.T) {
	// 非十六进制主密钥按口令派生，仍可正常加解密
	box, err := newCipherBox("口令式主密钥")
	require.NoError(t, err)

	sealed, err := box.seal([]byte("payload"))
	require.NoError(t, err)
	plain, err := box.open(sealed)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plain))

	// 同一口令派生同一密钥
	box2, err := newCipherBox("口令式主密钥")
	require.NoError(t, err)
	plain2, err := box2.open(sealed)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plain2))
}
