package user

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"certreg/internal/audit"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

// Service handles account lifecycle: registration, login, and the
// super-admin operations that change roles and account status.
type Service struct {
	store    Store
	tokens   *TokenService
	recorder *audit.Recorder
	logger   *slog.Logger
}

func NewService(store Store, tokens *TokenService, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, tokens: tokens, recorder: recorder, logger: logger}
}

// Register creates an applicant account.
func (s *Service) Register(ctx context.Context, email, fullName, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not hash password")
	}

	now := requestcontext.Now(ctx)
	u := &User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		Role:         requestcontext.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an account with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create account")
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:       u.ID,
		SubjectUserID: &u.ID,
		Action:        audit.ActionUserCreated,
	}); err != nil {
		s.logger.Error("audit record failed", "action", audit.ActionUserCreated, "error", err)
	}
	return u, nil
}

// Login verifies credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
	}
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not look up account")
	}
	if !u.Active {
		return "", nil, dErrors.New(dErrors.CodeForbidden, "account is deactivated")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
	}

	token, err := s.tokens.Generate(u.ID, u.Role, requestcontext.Now(ctx))
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not issue token")
	}
	return token, u, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load user")
	}
	return u, nil
}

// List returns every account, for the admin user directory.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.store.List(ctx)
}

// ListStaffIDs satisfies the notification dispatcher's staff directory.
func (s *Service) ListStaffIDs(ctx context.Context) ([]int64, error) {
	return s.store.ListStaffIDs(ctx)
}

// ChangeRole promotes or demotes an account. Super-admin only; actors
// cannot change their own role, which keeps at least one super-admin able
// to undo a mistake.
func (s *Service) ChangeRole(ctx context.Context, targetID int64, role requestcontext.Role) (*User, error) {
	actorID := requestcontext.UserID(ctx)
	if actorID == targetID {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot change your own role")
	}
	switch role {
	case requestcontext.RoleUser, requestcontext.RoleAdmin, requestcontext.RoleSuperAdmin:
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "invalid role: "+string(role))
	}

	u, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	u.Role = role
	u.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, u); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not update role")
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:       actorID,
		SubjectUserID: &targetID,
		Action:        audit.ActionUserRoleUpdated,
		Detail:        "role set to " + string(role),
	}); err != nil {
		s.logger.Error("audit record failed", "action", audit.ActionUserRoleUpdated, "error", err)
	}
	return u, nil
}

// SetActive activates or deactivates an account. Super-admin only; actors
// cannot deactivate themselves.
func (s *Service) SetActive(ctx context.Context, targetID int64, active bool) (*User, error) {
	actorID := requestcontext.UserID(ctx)
	if actorID == targetID {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot change your own account status")
	}

	u, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	u.Active = active
	u.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, u); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not update account status")
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:       actorID,
		SubjectUserID: &targetID,
		Action:        audit.ActionUserStatusUpdated,
		Detail:        "active set to " + strconv.FormatBool(active),
	}); err != nil {
		s.logger.Error("audit record failed", "action", audit.ActionUserStatusUpdated, "error", err)
	}
	return u, nil
}
