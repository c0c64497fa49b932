package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/apiconsole/internal/apperr"
)

const minPasswordLength = 8

// CodeDelivery says where a confirmation code was sent. There is no
// mail transport, so the code goes to the server log.
type CodeDelivery struct {
	Destination    string `json:"Destination"`
	DeliveryMedium string `json:"DeliveryMedium"`
	AttributeName  string `json:"AttributeName"`
}

// SignUpResult is returned by SignUp.
type SignUpResult struct {
	UserSub             string       `json:"userSub"`
	CodeDeliveryDetails CodeDelivery `json:"codeDeliveryDetails"`
}

// Tokens is a sign-in or refresh result. RefreshToken is empty on
// refresh. The access token carries the identity claims, so it is also
// returned as the ID token.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Directory is the local identity provider: accounts with bcrypt
// password hashes, email confirmation codes, and refresh tokens.
type Directory struct {
	db         *sql.DB
	signer     *Signer
	refreshTTL time.Duration
	logger     *slog.Logger
	cost       int
	now        func() time.Time
}

// NewDirectory creates a directory, running migrations on first use.
func NewDirectory(db *sql.DB, signer *Signer, refreshTTL time.Duration, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		db:         db,
		signer:     signer,
		refreshTTL: refreshTTL,
		logger:     logger,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return d, nil
}

func (d *Directory) migrate() error {
	if _, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			confirmed     INTEGER NOT NULL DEFAULT 0,
			confirm_code  TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token_hash TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			expires_at INTEGER NOT NULL
		)
	`)
	return err
}

// SignUp creates an unconfirmed account and logs its confirmation code.
func (d *Directory) SignUp(ctx context.Context, email, password, name string) (SignUpResult, error) {
	email = normalizeEmail(email)
	if strings.IndexByte(email, '@') <= 0 {
		return SignUpResult{}, apperr.Validation("auth.signup", "Sign up failed: Invalid email address format.")
	}
	if len(password) < minPasswordLength {
		return SignUpResult{}, apperr.Validation("auth.signup",
			fmt.Sprintf("Sign up failed: Password must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("hash password: %w", err)
	}
	code, err := confirmationCode()
	if err != nil {
		return SignUpResult{}, err
	}

	id := uuid.NewString()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, confirm_code)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		id, email, name, string(hash), code,
	)
	if err != nil {
		return SignUpResult{}, apperr.Persistence("auth.signup", err)
	}

	// ON CONFLICT DO NOTHING leaves the existing row; detect it by id.
	var stored string
	if err := d.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&stored); err != nil {
		return SignUpResult{}, apperr.Persistence("auth.signup", err)
	}
	if stored != id {
		return SignUpResult{}, apperr.Validation("auth.signup",
			"Sign up failed: An account with the given email already exists.")
	}

	d.logger.Info("confirmation code issued", "email", email, "user_id", id, "code", code)
	return SignUpResult{
		UserSub: id,
		CodeDeliveryDetails: CodeDelivery{
			Destination:    maskEmail(email),
			DeliveryMedium: "LOG",
			AttributeName:  "email",
		},
	}, nil
}

// Confirm marks the account confirmed when code matches.
func (d *Directory) Confirm(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	var want string
	var confirmed bool
	err := d.db.QueryRowContext(ctx,
		`SELECT confirm_code, confirmed FROM users WHERE email = ?`, email,
	).Scan(&want, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Validation("auth.confirm", "Confirmation failed: User not found")
	}
	if err != nil {
		return apperr.Persistence("auth.confirm", err)
	}
	if confirmed {
		return apperr.Validation("auth.confirm", "Confirmation failed: User is already confirmed")
	}
	if want == "" || strings.TrimSpace(code) != want {
		return apperr.Validation("auth.confirm", "Confirmation failed: Invalid verification code provided")
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE users SET confirmed = 1, confirm_code = '' WHERE email = ?`, email,
	); err != nil {
		return apperr.Persistence("auth.confirm", err)
	}
	d.logger.Info("account confirmed", "email", email)
	return nil
}

// SignIn checks the password and returns fresh tokens.
func (d *Directory) SignIn(ctx context.Context, email, password string) (Tokens, error) {
	email = normalizeEmail(email)

	var (
		id        Identity
		hash      string
		confirmed bool
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, confirmed FROM users WHERE email = ?`, email,
	).Scan(&id.ID, &id.Email, &id.Name, &hash, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, apperr.Auth("auth.signin", "Sign in failed: Incorrect username or password.")
	}
	if err != nil {
		return Tokens{}, apperr.Persistence("auth.signin", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Tokens{}, apperr.Auth("auth.signin", "Sign in failed: Incorrect username or password.")
	}
	if !confirmed {
		return Tokens{}, apperr.Auth("auth.signin", "Sign in failed: User is not confirmed.")
	}

	tokens, err := d.accessTokens(id)
	if err != nil {
		return Tokens{}, err
	}

	refresh, err := randomToken()
	if err != nil {
		return Tokens{}, err
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES (?, ?, ?)`,
		hashToken(refresh), id.ID, d.now().Add(d.refreshTTL).Unix(),
	); err != nil {
		return Tokens{}, apperr.Persistence("auth.signin", err)
	}
	tokens.RefreshToken = refresh

	d.logger.Info("signed in", "email", email, "user_id", id.ID)
	return tokens, nil
}

// Refresh exchanges a refresh token for a new access token. email must
// name the account the refresh token was issued to.
func (d *Directory) Refresh(ctx context.Context, refreshToken, email string) (Tokens, error) {
	email = normalizeEmail(email)

	var (
		id        Identity
		expiresAt int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, r.expires_at
		FROM refresh_tokens r JOIN users u ON u.id = r.user_id
		WHERE r.token_hash = ?`,
		hashToken(refreshToken),
	).Scan(&id.ID, &id.Email, &id.Name, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, apperr.Auth("auth.refresh", "Token refresh failed: Invalid refresh token")
	}
	if err != nil {
		return Tokens{}, apperr.Persistence("auth.refresh", err)
	}
	if id.Email != email {
		return Tokens{}, apperr.Auth("auth.refresh", "Token refresh failed: Invalid refresh token")
	}
	if d.now().Unix() >= expiresAt {
		if _, err := d.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, hashToken(refreshToken)); err != nil {
			d.logger.Warn("expired refresh token cleanup failed", "user_id", id.ID, "error", err)
		}
		return Tokens{}, apperr.Auth("auth.refresh", "Token refresh failed: Refresh token has expired")
	}

	return d.accessTokens(id)
}

func (d *Directory) accessTokens(id Identity) (Tokens, error) {
	access, _, err := d.signer.Issue(id)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken: access,
		IDToken:     access,
		ExpiresIn:   int(d.signer.TTL().Seconds()),
	}, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// maskEmail hides most of the local part: "alice@example.com" becomes
// "a***@example.com".
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
