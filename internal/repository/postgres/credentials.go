package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/repository"
)

const (
	pendingTable = "pending_registrations"
	accountTable = "accounts"

	accountCodeConstraint = "accounts_pkey"
)

var pendingColumns = []string{
	"id",
	"email",
	"registrant_type",
	"display_name",
	"mobile",
	"owner_name",
	"owner_mobile",
	"tax_id",
	"enterprise_category",
	"password_hash",
	"otp_code",
	"otp_expires_at",
	"resend_count",
	"last_sent_at",
	"created_at",
}

var accountColumns = []string{
	"account_code",
	"email",
	"registrant_type",
	"display_name",
	"mobile",
	"owner_name",
	"owner_mobile",
	"tax_id",
	"enterprise_category",
	"password_hash",
	"created_at",
}

// CredentialRepository implements port.CredentialStore on PostgreSQL.
type CredentialRepository struct {
	db      pgBeginner
	builder squirrel.StatementBuilderType
}

// NewCredentialRepository constructs a repository backed by a pool.
func NewCredentialRepository(db pgBeginner) *CredentialRepository {
	return &CredentialRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetPendingByEmail loads the staged registration for email.
func (r *CredentialRepository) GetPendingByEmail(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	stmt, args, err := r.builder.
		Select(pendingColumns...).
		From(pendingTable).
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select pending sql: %w", err)
	}

	pending, err := scanPending(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select pending registration: %w", err)
	}
	return pending, nil
}

// UpsertPending inserts or replaces the staged registration for the record's email.
// A replaced record keeps its id and starts over with a zero resend count.
func (r *CredentialRepository) UpsertPending(ctx context.Context, record domain.PendingRegistration) error {
	email := normalizeEmail(record.Email)
	if email == "" {
		return fmt.Errorf("upsert pending registration: email is required")
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	stmt, args, err := r.builder.
		Insert(pendingTable).
		Columns(pendingColumns...).
		Values(
			record.ID,
			email,
			string(record.RegistrantType),
			record.DisplayName,
			record.Mobile,
			nullableString(record.Enterprise.OwnerName),
			nullableString(record.Enterprise.OwnerMobile),
			nullableString(record.Enterprise.TaxID),
			nullableString(record.Enterprise.EnterpriseCategory),
			record.PasswordHash,
			record.OTPCode,
			record.OTPExpiresAt.UTC(),
			0,
			nil,
			createdAt.UTC(),
		).
		Suffix(`ON CONFLICT (email) DO UPDATE SET
			registrant_type = EXCLUDED.registrant_type,
			display_name = EXCLUDED.display_name,
			mobile = EXCLUDED.mobile,
			owner_name = EXCLUDED.owner_name,
			owner_mobile = EXCLUDED.owner_mobile,
			tax_id = EXCLUDED.tax_id,
			enterprise_category = EXCLUDED.enterprise_category,
			password_hash = EXCLUDED.password_hash,
			otp_code = EXCLUDED.otp_code,
			otp_expires_at = EXCLUDED.otp_expires_at,
			resend_count = 0,
			last_sent_at = NULL,
			created_at = EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert pending sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert pending registration: %w", err)
	}
	return nil
}

// RefreshPendingCode swaps in a new code and expiry and counts the resend.
func (r *CredentialRepository) RefreshPendingCode(ctx context.Context, email, code string, expiresAt time.Time) (*domain.PendingRegistration, error) {
	stmt, args, err := r.builder.
		Update(pendingTable).
		Set("otp_code", code).
		Set("otp_expires_at", expiresAt.UTC()).
		Set("resend_count", squirrel.Expr("resend_count + 1")).
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		Suffix("RETURNING " + strings.Join(pendingColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build refresh pending sql: %w", err)
	}

	pending, err := scanPending(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("refresh pending code: %w", err)
	}
	return pending, nil
}

// MarkPendingSent records a successful dispatch.
func (r *CredentialRepository) MarkPendingSent(ctx context.Context, email string, sentAt time.Time) error {
	stmt, args, err := r.builder.
		Update(pendingTable).
		Set("last_sent_at", sentAt.UTC()).
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark pending sent sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark pending sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePending removes the staged registration for email.
func (r *CredentialRepository) DeletePending(ctx context.Context, email string) error {
	stmt, args, err := r.builder.
		Delete(pendingTable).
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete pending sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete pending registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// PromotePending consumes the pending record holding code and creates the account in one transaction.
// It returns repository.ErrNotFound when the record is gone or now holds a different code.
func (r *CredentialRepository) PromotePending(ctx context.Context, email, code, accountCode string, createdAt time.Time) (account *domain.Account, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin promote transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	deleteStmt, deleteArgs, err := r.builder.
		Delete(pendingTable).
		Where(squirrel.Eq{"email": normalizeEmail(email), "otp_code": code}).
		Suffix("RETURNING " + strings.Join(pendingColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume pending sql: %w", err)
	}

	pending, err := scanPending(tx.QueryRow(ctx, deleteStmt, deleteArgs...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("consume pending registration: %w", err)
	}

	created := &domain.Account{
		AccountCode:    accountCode,
		Email:          pending.Email,
		RegistrantType: pending.RegistrantType,
		DisplayName:    pending.DisplayName,
		Mobile:         pending.Mobile,
		Enterprise:     pending.Enterprise,
		PasswordHash:   pending.PasswordHash,
		CreatedAt:      createdAt.UTC(),
	}

	insertStmt, insertArgs, err := r.builder.
		Insert(accountTable).
		Columns(accountColumns...).
		Values(
			created.AccountCode,
			created.Email,
			string(created.RegistrantType),
			created.DisplayName,
			created.Mobile,
			nullableString(created.Enterprise.OwnerName),
			nullableString(created.Enterprise.OwnerMobile),
			nullableString(created.Enterprise.TaxID),
			nullableString(created.Enterprise.EnterpriseCategory),
			created.PasswordHash,
			created.CreatedAt,
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err = tx.Exec(ctx, insertStmt, insertArgs...); err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == accountCodeConstraint {
				return nil, repository.ErrAccountCodeTaken
			}
			return nil, fmt.Errorf("%w: %s", repository.ErrConflict, constraint)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit promote transaction: %w", err)
	}

	return created, nil
}

// AccountExists reports whether an account already uses email or mobile.
func (r *CredentialRepository) AccountExists(ctx context.Context, email, mobile string) (bool, error) {
	conditions := squirrel.Or{squirrel.Eq{"email": normalizeEmail(email)}}
	if mobile = strings.TrimSpace(mobile); mobile != "" {
		conditions = append(conditions, squirrel.Eq{"mobile": mobile})
	}

	stmt, args, err := r.builder.
		Select("1").
		From(accountTable).
		Where(conditions).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build account exists sql: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return exists, nil
}

// GetAccountByIdentifier looks an account up by email or account code.
func (r *CredentialRepository) GetAccountByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, repository.ErrNotFound
	}

	where := squirrel.Eq{"account_code": strings.ToUpper(identifier)}
	if strings.Contains(identifier, "@") {
		where = squirrel.Eq{"email": normalizeEmail(identifier)}
	}

	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountTable).
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var (
		account     domain.Account
		rtype       string
		ownerName   sql.NullString
		ownerMobile sql.NullString
		taxID       sql.NullString
		category    sql.NullString
	)
	err = r.db.QueryRow(ctx, stmt, args...).Scan(
		&account.AccountCode,
		&account.Email,
		&rtype,
		&account.DisplayName,
		&account.Mobile,
		&ownerName,
		&ownerMobile,
		&taxID,
		&category,
		&account.PasswordHash,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}

	account.RegistrantType = domain.RegistrantType(rtype)
	account.Enterprise = domain.EnterpriseProfile{
		OwnerName:          ownerName.String,
		OwnerMobile:        ownerMobile.String,
		TaxID:              taxID.String,
		EnterpriseCategory: category.String,
	}
	return &account, nil
}

func scanPending(row pgx.Row) (*domain.PendingRegistration, error) {
	var (
		pending     domain.PendingRegistration
		rtype       string
		ownerName   sql.NullString
		ownerMobile sql.NullString
		taxID       sql.NullString
		category    sql.NullString
		lastSentAt  *time.Time
	)

	if err := row.Scan(
		&pending.ID,
		&pending.Email,
		&rtype,
		&pending.DisplayName,
		&pending.Mobile,
		&ownerName,
		&ownerMobile,
		&taxID,
		&category,
		&pending.PasswordHash,
		&pending.OTPCode,
		&pending.OTPExpiresAt,
		&pending.ResendCount,
		&lastSentAt,
		&pending.CreatedAt,
	); err != nil {
		return nil, err
	}

	pending.RegistrantType = domain.RegistrantType(rtype)
	pending.Enterprise = domain.EnterpriseProfile{
		OwnerName:          ownerName.String,
		OwnerMobile:        ownerMobile.String,
		TaxID:              taxID.String,
		EnterpriseCategory: category.String,
	}
	pending.LastSentAt = lastSentAt
	return &pending, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ port.CredentialStore = (*CredentialRepository)(nil)
