package credential

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// expirySkewMS 提前 5 分钟视为过期，避免边界上的 401。
const expirySkewMS = 300_000

// Credential 对应凭据文件里的一条 OAuth2 refresh-token 账户。
// SessionID 是进程内临时标识，永不落盘。
type Credential struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Enable       bool   `json:"enable"`
	ProjectID    string `json:"project_id,omitempty"`
	Remark       string `json:"remark,omitempty"`
	SessionID    int64  `json:"-"`
}

// UnmarshalJSON 让 enable 缺省为 true：手工编辑的凭据文件通常不写该字段。
func (c *Credential) UnmarshalJSON(data []byte) error {
	type alias Credential
	aux := struct {
		Enable *bool `json:"enable"`
		*alias
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Enable == nil {
		c.Enable = true
	} else {
		c.Enable = *aux.Enable
	}
	return nil
}

// Key 返回稳定身份键（refresh token 本身）。
func (c *Credential) Key() string {
	return c.RefreshToken
}

// Hash 返回用于日志字段的脱敏身份：refresh token 的 xxhash。
func (c *Credential) Hash() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(c.RefreshToken))
}

// MaskedKey 返回统计接口展示用的 10 字符前缀。
func (c *Credential) MaskedKey() string {
	if len(c.RefreshToken) <= 10 {
		return c.RefreshToken
	}
	return c.RefreshToken[:10]
}

// IsExpired 判断 access token 是否过期（含 5 分钟偏斜）。
// 缺少签发时间或有效期时视为过期，强制走刷新。
func (c *Credential) IsExpired(nowMS int64) bool {
	if c.Timestamp == 0 || c.ExpiresIn == 0 {
		return true
	}
	expiresAt := c.Timestamp + int64(c.ExpiresIn)*1000
	return nowMS >= expiresAt-expirySkewMS
}

// Clone 返回快照副本，调用方只读使用。
func (c *Credential) Clone() *Credential {
	cp := *c
	return &cp
}

// NewSessionID 生成进程内会话标识：负数，绝对值不超过 9×10¹⁸。
func NewSessionID() int64 {
	return -(rand.Int64N(9_000_000_000_000_000_000) + 1)
}

// Display 返回 remark 或脱敏前缀，供人读日志使用。
func (c *Credential) Display() string {
	if r := strings.TrimSpace(c.Remark); r != "" {
		return r
	}
	return c.MaskedKey()
}
