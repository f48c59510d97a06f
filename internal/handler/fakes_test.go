package handler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdash/dashboard-server/internal/config"
	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/middleware"
	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
	"github.com/opsdash/dashboard-server/internal/util"
)

type stubSession struct {
	id     int64
	userID int64
	active bool
}

type stubSessionRepo struct {
	mu     sync.Mutex
	rows   map[string]*stubSession
	users  *stubUserRepo
	nextID int64
}

func newStubSessionRepo(users *stubUserRepo) *stubSessionRepo {
	return &stubSessionRepo{rows: make(map[string]*stubSession), users: users}
}

func (s *stubSessionRepo) active(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	return ok && row.active
}

func (s *stubSessionRepo) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, string, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[token] = &stubSession{id: s.nextID, userID: params.UserID, active: true}
	return &model.Session{
		ID:        s.nextID,
		UserID:    params.UserID,
		TokenHash: util.HashToken(token),
		ExpiresAt: params.ExpiresAt,
		IsActive:  true,
	}, token, nil
}

func (s *stubSessionRepo) GetSessionByToken(ctx context.Context, token string) (model.SessionValidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	if !ok || !row.active {
		return model.NotFoundSession(), nil
	}
	u, _ := s.users.FindByID(ctx, row.userID)
	return model.ValidSession(u.ID, u.Username, u.RoleName), nil
}

func (s *stubSessionRepo) DeactivateSession(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	if !ok {
		return false, nil
	}
	row.active = false
	return true, nil
}

func (s *stubSessionRepo) UpdateActivity(ctx context.Context, token string) (bool, error) {
	return s.active(token), nil
}

func (s *stubSessionRepo) IsExpired(ctx context.Context, token string) (bool, error) {
	return !s.active(token), nil
}

func (s *stubSessionRepo) ForceDeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.userID == userID && row.active {
			row.active = false
			n++
		}
	}
	return n, nil
}

func (s *stubSessionRepo) ListActiveSessions(ctx context.Context, userID *int64) ([]model.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.SessionSummary{}
	for _, row := range s.rows {
		if !row.active || (userID != nil && row.userID != *userID) {
			continue
		}
		out = append(out, model.SessionSummary{ID: row.id, UserID: row.userID})
	}
	return out, nil
}

func (s *stubSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *stubSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return s
}

type stubUserRepo struct {
	mu    sync.Mutex
	users map[int64]*model.UserAccount
}

func newStubUserRepo(users ...*model.UserAccount) *stubUserRepo {
	r := &stubUserRepo{users: make(map[int64]*model.UserAccount)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *stubUserRepo) FindByUsername(ctx context.Context, username string) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubUserRepo) FindByID(ctx context.Context, id int64) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (r *stubUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next int64
	for id, u := range r.users {
		if u.Username == params.Username {
			return nil, repository.ErrDuplicate
		}
		next = max(next, id)
	}
	u := &model.UserAccount{
		ID:           next + 1,
		Username:     params.Username,
		Name:         params.Name,
		PasswordHash: params.PasswordHash,
		RoleID:       params.RoleID,
		IsVerified:   params.IsVerified,
		IsActive:     params.IsActive,
	}
	r.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (r *stubUserRepo) Activate(ctx context.Context, id int64) (bool, error) {
	return r.setActive(id, true), nil
}

func (r *stubUserRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	return r.setActive(id, false), nil
}

func (r *stubUserRepo) setActive(id int64, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false
	}
	u.IsActive = active
	return true
}

func (r *stubUserRepo) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	return &model.Role{ID: 1, Name: name, IsActive: true}, nil
}

func (r *stubUserRepo) CountActiveByRole(ctx context.Context, roleName string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if u.RoleName == roleName && u.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *stubUserRepo) WithTx(tx *sqlx.Tx) repository.UserRepository {
	return r
}

type stubTransactor struct{}

func (stubTransactor) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

func account(t testing.TB, id int64, username, role, password string) *model.UserAccount {
	hash, err := util.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return &model.UserAccount{
		ID:           id,
		Username:     username,
		Name:         username,
		PasswordHash: hash,
		RoleName:     role,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
}

func testExtractor() *sessionctx.Extractor {
	return sessionctx.NewExtractor(config.ContextDefaults{
		IP:        "127.0.0.1",
		UserAgent: "test-agent",
		URL:       "http://localhost:8080",
		Timezone:  "UTC",
		Locale:    "en",
	})
}

// withMirror places m in the request context the way ViewMiddleware does.
func withMirror(m *mirror.Mirror, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.MirrorContextKey, m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
