package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

var userColumns = []string{"id", "email", "password_hash", "display_name", "phone", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRegisterAndLogin(t *testing.T) {
	mock := newMock(t)
	createdAt := time.Now().Add(-time.Minute)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("walker@example.com", pgxmock.AnyArg(), "Mina", "010-1234").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), createdAt, createdAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	user, tokens, err := svc.Register(context.Background(), RegisterRequest{
		Email:       " Walker@Example.com ",
		Password:    "password123",
		DisplayName: "Mina",
		Phone:       "010-1234",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID != 7 || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected user and tokens, got %+v", user)
	}
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn != int64(accessTokenTTL.Seconds()) {
		t.Fatalf("unexpected token metadata %+v", tokens)
	}

	mock.ExpectQuery(`SELECT id, email, password_hash, display_name, phone, created_at, updated_at`).
		WithArgs("walker@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow(int64(7), user.Email, user.PasswordHash, user.DisplayName, user.Phone, createdAt, createdAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, loginTokens, err := svc.Login(context.Background(), LoginRequest{Email: "walker@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	userID, err := svc.ValidateAccessToken(loginTokens.AccessToken)
	if err != nil || userID != 7 {
		t.Fatalf("access token should resolve to 7, got %d err %v", userID, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	svc := NewService("test-secret", newMock(t))
	cases := []RegisterRequest{
		{Password: "p", DisplayName: "n"},
		{Email: "a@b.c", DisplayName: "n"},
		{Email: "a@b.c", Password: "p", DisplayName: "  "},
	}
	for _, req := range cases {
		if _, _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrMissingFields) {
			t.Fatalf("expected ErrMissingFields for %+v, got %v", req, err)
		}
	}
}

func TestRegisterHashError(t *testing.T) {
	oldHash := hashPasswordFn
	hashPasswordFn = func(_ []byte, _ int) ([]byte, error) {
		return nil, pgErr
	}
	defer func() { hashPasswordFn = oldHash }()

	svc := NewService("test-secret", nil)
	_, _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "pass", DisplayName: "A"})
	if !errors.Is(err, pgErr) {
		t.Fatalf("expected hash error, got %v", err)
	}
}

func TestRegisterDBError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.c", pgxmock.AnyArg(), "A", "").
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "pass", DisplayName: "A"}); err == nil {
		t.Fatalf("expected db error")
	}
}

func TestRegisterGenerateTokensError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.c", pgxmock.AnyArg(), "A", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "pass", DisplayName: "A"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoginInvalidPassword(t *testing.T) {
	mock := newMock(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)

	mock.ExpectQuery(`SELECT id, email, password_hash`).
		WithArgs("a@b.c").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(1), "a@b.c", string(hash), "A", "", time.Now(), time.Now()))

	svc := NewService("test-secret", mock)
	_, _, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, email, password_hash`).
		WithArgs("a@b.c").
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginGenerateTokensError(t *testing.T) {
	mock := newMock(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)

	mock.ExpectQuery(`SELECT id, email, password_hash`).
		WithArgs("a@b.c").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow(int64(1), "a@b.c", string(hash), "A", "", time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "pass"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGenerateTokensAccessSignError(t *testing.T) {
	oldSign := signTokenFn
	signTokenFn = func(_ *Service, _ int64, _ string, _ time.Duration) (string, error) {
		return "", pgErr
	}
	defer func() { signTokenFn = oldSign }()

	if _, err := NewService("test-secret", nil).GenerateTokens(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGenerateTokensRefreshSignError(t *testing.T) {
	oldSign := signTokenFn
	signTokenFn = func(_ *Service, _ int64, kind string, _ time.Duration) (string, error) {
		if kind == kindRefresh {
			return "", pgErr
		}
		return "token", nil
	}
	defer func() { signTokenFn = oldSign }()

	if _, err := NewService("test-secret", nil).GenerateTokens(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGenerateTokensSaveRefreshError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)

	if _, err := NewService("test-secret", mock).GenerateTokens(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(3, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(3), time.Now().Add(5*time.Minute)))

	userID, err := svc.ValidateRefreshToken(context.Background(), refresh)
	if err != nil || userID != 3 {
		t.Fatalf("unexpected user %d err %v", userID, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestValidateRefreshTokenRejectsAccessToken(t *testing.T) {
	svc := NewService("test-secret", newMock(t))
	access, _ := svc.signToken(3, kindAccess, accessTokenTTL)
	if _, err := svc.ValidateRefreshToken(context.Background(), access); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestValidateRefreshTokenExpired(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(2, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(2), time.Now().Add(-time.Minute)))

	if _, err := svc.ValidateRefreshToken(context.Background(), refresh); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateRefreshTokenOwnerMismatch(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(2, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(9), time.Now().Add(time.Hour)))

	if _, err := svc.ValidateRefreshToken(context.Background(), refresh); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestValidateRefreshTokenLookupError(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(3, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnError(pgErr)

	if _, err := svc.ValidateRefreshToken(context.Background(), refresh); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRefreshRotates(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(4, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(4), time.Now().Add(time.Hour)))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(refresh).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), int64(4), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tokens, err := svc.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.RefreshToken == refresh {
		t.Fatalf("refresh token should rotate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshRevokeError(t *testing.T) {
	mock := newMock(t)
	svc := NewService("test-secret", mock)
	refresh, _ := svc.signToken(4, kindRefresh, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(4), time.Now().Add(time.Hour)))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(refresh).
		WillReturnError(pgErr)

	if _, err := svc.Refresh(context.Background(), refresh); !errors.Is(err, pgErr) {
		t.Fatalf("expected revoke error, got %v", err)
	}
}

func TestParseTokenInvalid(t *testing.T) {
	oldParse := parseWithClaimsFn
	parseWithClaimsFn = func(_ string, _ jwt.Claims, _ jwt.Keyfunc, _ ...jwt.ParserOption) (*jwt.Token, error) {
		return &jwt.Token{Valid: false, Claims: &Claims{}}, nil
	}
	defer func() { parseWithClaimsFn = oldParse }()

	if _, err := NewService("test-secret", nil).parseToken("token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateAccessToken(t *testing.T) {
	svc := NewService("test-secret", nil)
	if _, err := svc.ValidateAccessToken("invalid-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}

	refresh, _ := svc.signToken(5, kindRefresh, refreshTokenTTL)
	if _, err := svc.ValidateAccessToken(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not pass as access, got %v", err)
	}

	other, _ := NewService("other-secret", nil).signToken(5, kindAccess, accessTokenTTL)
	if _, err := svc.ValidateAccessToken(other); err == nil {
		t.Fatalf("expected signature error")
	}

	expired, _ := svc.signToken(5, kindAccess, -time.Minute)
	if _, err := svc.ValidateAccessToken(expired); err == nil {
		t.Fatalf("expected expiry error")
	}
}

var pgErr = errors.New("db error")
