package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/util"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, string, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*model.Session), args.String(1), args.Error(2)
}

func (m *mockSessionRepo) GetSessionByToken(ctx context.Context, token string) (model.SessionValidation, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(model.SessionValidation), args.Error(1)
}

func (m *mockSessionRepo) DeactivateSession(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) UpdateActivity(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) IsExpired(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) ForceDeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SessionSummary), args.Error(1)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	args := m.Called(tx)
	return args.Get(0).(repository.SessionRepository)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.UserAccount, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserAccount), args.Error(1)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.UserAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserAccount), args.Error(1)
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.UserAccount, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserAccount), args.Error(1)
}

func (m *mockUserRepo) Activate(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Role), args.Error(1)
}

func (m *mockUserRepo) CountActiveByRole(ctx context.Context, roleName string) (int, error) {
	args := m.Called(ctx, roleName)
	return args.Int(0), args.Error(1)
}

func (m *mockUserRepo) WithTx(tx *sqlx.Tx) repository.UserRepository {
	args := m.Called(tx)
	return args.Get(0).(repository.UserRepository)
}

// fakeTransactor runs fn without a real transaction and records whether the
// callback returned an error.
type fakeTransactor struct {
	calls      int
	rolledBack bool
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn database.TxFunc) error {
	f.calls++
	err := fn(nil)
	f.rolledBack = err != nil
	return err
}

// memSessionStore is an in-memory SessionRepository used to exercise the
// service against realistic store behavior.
type memSessionStore struct {
	mu      sync.Mutex
	rows    map[string]*model.Session
	users   map[int64]model.Identity
	policy  model.SessionPolicy
	now     time.Time
	nextID  int64
	failAll error
}

func newMemSessionStore(now time.Time, users ...model.Identity) *memSessionStore {
	s := &memSessionStore{
		rows:  make(map[string]*model.Session),
		users: make(map[int64]model.Identity),
		now:   now,
	}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *memSessionStore) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func (s *memSessionStore) row(token string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[util.HashToken(token)]
}

func (s *memSessionStore) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, string, error) {
	if s.failAll != nil {
		return nil, "", s.failAll
	}
	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row := &model.Session{
		ID:           s.nextID,
		UserID:       params.UserID,
		TokenHash:    util.HashToken(token),
		IPAddress:    params.IPAddress,
		UserAgent:    params.UserAgent,
		CreatedAt:    s.now,
		ExpiresAt:    params.ExpiresAt,
		LastActivity: s.now,
		IsActive:     true,
	}
	s.rows[row.TokenHash] = row
	copied := *row
	return &copied, token, nil
}

func (s *memSessionStore) GetSessionByToken(ctx context.Context, token string) (model.SessionValidation, error) {
	if s.failAll != nil {
		return model.InvalidSession("system error"), s.failAll
	}
	if len(token) < repository.MinTokenLength {
		return model.NotFoundSession(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[util.HashToken(token)]
	if !ok {
		return s.policy.Evaluate(nil, s.now), nil
	}
	u := s.users[row.UserID]
	return s.policy.Evaluate(&model.SessionLookup{
		UserID:       row.UserID,
		Username:     u.Username,
		RoleName:     u.RoleName,
		ExpiresAt:    row.ExpiresAt,
		LastActivity: row.LastActivity,
		IsActive:     row.IsActive,
	}, s.now), nil
}

func (s *memSessionStore) DeactivateSession(ctx context.Context, token string) (bool, error) {
	if s.failAll != nil {
		return false, s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[util.HashToken(token)]
	if !ok {
		return false, nil
	}
	row.IsActive = false
	return true, nil
}

func (s *memSessionStore) UpdateActivity(ctx context.Context, token string) (bool, error) {
	if s.failAll != nil {
		return false, s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[util.HashToken(token)]
	if !ok || !row.IsActive {
		return false, nil
	}
	if s.now.After(row.LastActivity) {
		row.LastActivity = s.now
	}
	return true, nil
}

func (s *memSessionStore) IsExpired(ctx context.Context, token string) (bool, error) {
	if s.failAll != nil {
		return true, s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[util.HashToken(token)]
	if !ok {
		return true, nil
	}
	return s.policy.Expired(row.ExpiresAt, row.LastActivity, s.now), nil
}

func (s *memSessionStore) ForceDeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	if s.failAll != nil {
		return 0, s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.UserID == userID && row.IsActive {
			row.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *memSessionStore) ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.SessionSummary{}
	for _, row := range s.rows {
		if !row.IsActive || !s.now.Before(row.ExpiresAt) {
			continue
		}
		if userID != nil && row.UserID != *userID {
			continue
		}
		u := s.users[row.UserID]
		out = append(out, model.SessionSummary{
			ID:           row.ID,
			UserID:       row.UserID,
			Username:     u.Username,
			RoleName:     u.RoleName,
			IPAddress:    row.IPAddress,
			UserAgent:    row.UserAgent,
			CreatedAt:    row.CreatedAt,
			LastActivity: row.LastActivity,
			ExpiresAt:    row.ExpiresAt,
		})
	}
	return out, nil
}

func (s *memSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *memSessionStore) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return s
}
