package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/credential"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

// CredentialStore 独占管理凭据文件（JSON 数组）。
// 所有写操作经过同一把锁串行化；读操作不取锁，直接读文件快照。
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

func (s *CredentialStore) Path() string {
	return s.path
}

// Load 读取文件并返回启用的凭据子集。
// 缺失 project_id 的记录会就地分配并立即持久化；每条启用凭据
// 都带上新的进程内 session_id。文件缺失或损坏时返回空集。
// 补写 project_id 属于写路径，和 SaveAll 走同一把锁，
// 防止并发 token 刷新落盘互相覆盖。
func (s *CredentialStore) Load() ([]*credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()

	assigned := 0
	for _, c := range all {
		if c.ProjectID == "" {
			c.ProjectID = credential.NewProjectID()
			assigned++
		}
	}
	if assigned > 0 {
		if err := s.writeAll(all); err != nil {
			return nil, fmt.Errorf("persist project ids: %w", err)
		}
		logger.L().Info("credential_store.project_ids_assigned",
			zap.Int("count", assigned),
			zap.String("file", s.path),
		)
	}

	enabled := make([]*credential.Credential, 0, len(all))
	for _, c := range all {
		if !c.Enable {
			continue
		}
		c.SessionID = credential.NewSessionID()
		enabled = append(enabled, c)
	}
	return enabled, nil
}

// LoadAll 返回文件中的全部记录（含禁用），保持文件顺序。
func (s *CredentialStore) LoadAll() []*credential.Credential {
	return s.readAll()
}

// SaveAll 把给定凭据的持久化字段覆盖进文件。
// 以 refresh_token 匹配逐条覆盖；文件里不存在的记录不新增，
// 避免覆盖运维人员手工删除的条目。session_id 由类型系统保证不落盘。
func (s *CredentialStore) SaveAll(updated []*credential.Credential) error {
	if len(updated) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()
	if len(all) == 0 {
		// 文件缺失/为空时直接写入传入记录，保住刚刷新出来的 token。
		all = make([]*credential.Credential, 0, len(updated))
		for _, u := range updated {
			all = append(all, u.Clone())
		}
		return s.writeAll(all)
	}

	index := make(map[string]*credential.Credential, len(all))
	for _, c := range all {
		index[c.Key()] = c
	}
	for _, u := range updated {
		target, ok := index[u.Key()]
		if !ok {
			continue
		}
		target.AccessToken = u.AccessToken
		target.ExpiresIn = u.ExpiresIn
		target.Timestamp = u.Timestamp
		target.Enable = u.Enable
		target.ProjectID = u.ProjectID
		target.Remark = u.Remark
	}
	return s.writeAll(all)
}

// Disable 将凭据标记为禁用并持久化，随后返回重载的启用集。
// 调用方在持久化完成前不得把该凭据放回轮换。
func (s *CredentialStore) Disable(cred *credential.Credential) ([]*credential.Credential, error) {
	if cred == nil {
		return nil, errors.New("credential is nil")
	}

	s.mu.Lock()
	all := s.readAll()
	found := false
	for _, c := range all {
		if c.Key() == cred.Key() {
			c.Enable = false
			found = true
			break
		}
	}
	var writeErr error
	if found {
		writeErr = s.writeAll(all)
	}
	s.mu.Unlock()

	if writeErr != nil {
		return nil, fmt.Errorf("persist disable: %w", writeErr)
	}
	cred.Enable = false
	return s.Load()
}

// UpdateRemark 按完整列表（含禁用）中的下标更新备注。
func (s *CredentialStore) UpdateRemark(index int, remark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()
	if index < 0 || index >= len(all) {
		return fmt.Errorf("credential index out of range: %d", index)
	}
	all[index].Remark = remark
	return s.writeAll(all)
}

func (s *CredentialStore) readAll() []*credential.Credential {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.L().Warn("credential_store.read_failed",
				zap.String("file", s.path),
				zap.Error(err),
			)
		}
		return nil
	}

	var all []*credential.Credential
	if err := json.Unmarshal(raw, &all); err != nil {
		logger.L().Warn("credential_store.parse_failed",
			zap.String("file", s.path),
			zap.Error(err),
		)
		return nil
	}

	out := all[:0]
	for _, c := range all {
		if c == nil || c.RefreshToken == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// writeAll 采用临时文件加 rename，避免写一半的文件形态被读到。
func (s *CredentialStore) writeAll(all []*credential.Credential) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
