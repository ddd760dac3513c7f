package store

import (
	"context"
	"sync"

	"github.com/chatkit-go/chatkit/utils"
)

// MemoryStore is a process-local InstallationStore. Suitable for tests and
// single-process dev setups; installations are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex
	// latest installation per workspace, and per (workspace, user)
	byWorkspace map[string]*Installation
	byUser      map[string]*Installation
}

var _ InstallationStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byWorkspace: map[string]*Installation{},
		byUser:      map[string]*Installation{},
	}
}

func workspaceKey(q InstallationQuery) string {
	teamID := q.TeamID
	if q.IsEnterpriseInstall {
		// org-wide installs are keyed by enterprise only
		teamID = ""
	}
	return q.EnterpriseID + "/" + teamID
}

func (s *MemoryStore) Save(_ context.Context, installation *Installation) error {
	if installation == nil {
		return utils.NewInvalidError("installation is required")
	}
	q := InstallationQuery{
		EnterpriseID:        installation.EnterpriseID,
		TeamID:              installation.TeamID,
		IsEnterpriseInstall: installation.IsEnterpriseInstall,
	}
	saved := *installation

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWorkspace[workspaceKey(q)] = &saved
	if saved.UserID != "" {
		s.byUser[workspaceKey(q)+"/"+saved.UserID] = &saved
	}
	return nil
}

func (s *MemoryStore) FindInstallation(_ context.Context, q InstallationQuery) (*Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Installation
	if q.UserID != "" {
		found = s.byUser[workspaceKey(q)+"/"+q.UserID]
	} else {
		found = s.byWorkspace[workspaceKey(q)]
	}
	if found == nil {
		return nil, utils.NewNotFoundError("no installation for enterprise_id: %q team_id: %q user_id: %q",
			q.EnterpriseID, q.TeamID, q.UserID)
	}
	copied := *found
	return &copied, nil
}

func (s *MemoryStore) FindBot(ctx context.Context, q InstallationQuery) (*Bot, error) {
	q.UserID = ""
	installation, err := s.FindInstallation(ctx, q)
	if err != nil {
		return nil, err
	}
	return installation.ToBot(), nil
}
