package credential

import (
	"time"

	"gorm.io/datatypes"
)

// Credential 加密存储的后端访问凭据
// Kind 冗余记录密文载荷内的类别，供列表查询与解密前的预检
type Credential struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid"`
	Name string `json:"name" gorm:"size:255;not null"`
	Kind string `json:"kind" gorm:"size:50;not null;index"`

	// 密文载荷，随机 Nonce 前缀加 AEAD 密文
	Ciphertext []byte `json:"-" gorm:"not null"`

	// 非敏感附加信息（描述、环境标签等），明文存储
	Metadata datatypes.JSON `json:"metadata,omitempty"`

	// 时间戳
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// TableName 指定表名
func (Credential) TableName() string {
	return "credentials"
}
