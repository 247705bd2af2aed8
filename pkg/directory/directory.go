// Package directory resolves user identities from the external user store.
// Everything here is read-only.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mahaj/chatcore/pkg/model"
)

var ErrUserNotFound = errors.New("user not found")

type Directory interface {
	Get(ctx context.Context, id string) (model.User, error)
	// GetMany returns the subset of ids that resolve, keyed by id.
	GetMany(ctx context.Context, ids []string) (map[string]model.User, error)
	// ListExcept returns every user but excludeID, ordered by username.
	ListExcept(ctx context.Context, excludeID string) ([]model.User, error)
}

// Static is an in-memory directory.
type Static struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewStatic(users ...model.User) *Static {
	s := &Static{users: make(map[string]model.User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// ParseSeed reads "id:username:first:last:role" entries separated by commas
// or semicolons. Missing trailing fields are left blank; role defaults to user.
func ParseSeed(seed string) ([]model.User, error) {
	var users []model.User
	for _, entry := range strings.FieldsFunc(seed, func(r rune) bool { return r == ',' || r == ';' }) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if parts[0] == "" || len(parts) > 5 {
			return nil, fmt.Errorf("bad seed entry %q", entry)
		}
		for len(parts) < 5 {
			parts = append(parts, "")
		}
		role := model.Role(parts[4])
		if role == "" {
			role = model.RoleUser
		}
		users = append(users, model.User{
			ID:        parts[0],
			Username:  parts[1],
			FirstName: parts[2],
			LastName:  parts[3],
			Role:      role,
		})
	}
	return users, nil
}

func (s *Static) Put(u model.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *Static) Get(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *Static) GetMany(_ context.Context, ids []string) (map[string]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *Static) ListExcept(_ context.Context, excludeID string) ([]model.User, error) {
	s.mu.RLock()
	out := make([]model.User, 0, len(s.users))
	for id, u := range s.users {
		if id != excludeID {
			out = append(out, u)
		}
	}
	s.mu.RUnlock()
	sortUsers(out)
	return out, nil
}

func sortUsers(users []model.User) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
}
