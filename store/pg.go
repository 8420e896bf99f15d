package store

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusmine/campusmine/mining"
)

type sessionRow struct {
	SessionID     string          `gorm:"primaryKey;size:32"`
	StudentID     string          `gorm:"size:255;not null;index:idx_sessions_pair"`
	InstitutionID string          `gorm:"size:255;not null;index:idx_sessions_pair"`
	StartTime     time.Time       `gorm:"not null"`
	ScheduledEnd  time.Time       `gorm:"not null;index"`
	Rate          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Active        bool            `gorm:"not null;index"`
	TokensEarned  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ClosedAt      *time.Time
}

func (sessionRow) TableName() string { return "mining_sessions" }

type walletRow struct {
	StudentID     string          `gorm:"primaryKey;size:255"`
	InstitutionID string          `gorm:"primaryKey;size:255"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	TotalMined    decimal.Decimal `gorm:"type:numeric(20,8);not null"`
}

func (walletRow) TableName() string { return "wallets" }

type institutionRow struct {
	ID                string          `gorm:"primaryKey;size:255"`
	Name              string          `gorm:"size:255"`
	BaseRate          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ReferralBonusRate decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ActiveMiners      int             `gorm:"not null"`
	TotalMiners       int             `gorm:"not null"`
	TotalTokensMined  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
}

func (institutionRow) TableName() string { return "institutions" }

// trackedRow and referralRow mirror tables owned by the account
// subsystem; the engine only reads them.
type trackedRow struct {
	StudentID     string `gorm:"primaryKey;size:255"`
	InstitutionID string `gorm:"primaryKey;size:255"`
}

func (trackedRow) TableName() string { return "tracked_institutions" }

type referralRow struct {
	ReferrerID    string `gorm:"primaryKey;size:255"`
	InstitutionID string `gorm:"primaryKey;size:255"`
	ReferredID    string `gorm:"primaryKey;size:255"`
	Active        bool   `gorm:"not null"`
}

func (referralRow) TableName() string { return "referrals" }

type adjustmentRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	StudentID     string
	InstitutionID string
	Delta         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Reason        string
	CreatedAt     time.Time
}

func (adjustmentRow) TableName() string { return "wallet_adjustments" }

// PGStore is the Postgres implementation of every store interface the
// engine consumes.
type PGStore struct{ db *gorm.DB }

func NewPGStore(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "pg: open")
	}
	s := &PGStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, pkgerrors.Wrap(err, "pg: migrate")
	}
	return s, nil
}

func (s *PGStore) ensureSchema() error {
	return s.db.AutoMigrate(&sessionRow{}, &walletRow{}, &institutionRow{}, &trackedRow{}, &referralRow{}, &adjustmentRow{})
}

// SessionStore

func (s *PGStore) CreateSession(ctx context.Context, sess *mining.Session) error {
	row := sessionFromDomain(sess)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *PGStore) ActiveSession(ctx context.Context, studentID, institutionID string) (*mining.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND institution_id = ? AND active", studentID, institutionID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PGStore) ActiveSessions(ctx context.Context, studentID string) ([]*mining.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND active", studentID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*mining.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PGStore) ExpiredActiveSessions(ctx context.Context, asOf time.Time) ([]*mining.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("active AND scheduled_end <= ?", asOf).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*mining.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// CloseSession claims the active flag with a conditional update; zero
// rows affected means another committer already closed the session.
func (s *PGStore) CloseSession(ctx context.Context, sessionID string, tokens decimal.Decimal, closedAt time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("session_id = ? AND active", sessionID).
		Updates(map[string]interface{}{
			"active":        false,
			"tokens_earned": tokens,
			"closed_at":     closedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// WalletStore

func (s *PGStore) Wallet(ctx context.Context, studentID, institutionID string) (*mining.Wallet, error) {
	var row walletRow
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND institution_id = ?", studentID, institutionID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PGStore) Wallets(ctx context.Context, studentID string) ([]*mining.Wallet, error) {
	var rows []walletRow
	err := s.db.WithContext(ctx).Where("student_id = ?", studentID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*mining.Wallet, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PGStore) EnsureWallet(ctx context.Context, studentID, institutionID string) (*mining.Wallet, bool, error) {
	row := walletRow{StudentID: studentID, InstitutionID: institutionID, Balance: decimal.Zero, TotalMined: decimal.Zero}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	created := tx.RowsAffected == 1
	w, err := s.Wallet(ctx, studentID, institutionID)
	if err != nil {
		return nil, false, err
	}
	return w, created, nil
}

func (s *PGStore) Credit(ctx context.Context, studentID, institutionID string, tokens decimal.Decimal) (*mining.Wallet, error) {
	err := s.db.WithContext(ctx).Model(&walletRow{}).
		Where("student_id = ? AND institution_id = ?", studentID, institutionID).
		Updates(map[string]interface{}{
			"balance":     gorm.Expr("balance + ?", tokens),
			"total_mined": gorm.Expr("total_mined + ?", tokens),
		}).Error
	if err != nil {
		return nil, err
	}
	return s.Wallet(ctx, studentID, institutionID)
}

func (s *PGStore) AdjustBalance(ctx context.Context, studentID, institutionID string, delta decimal.Decimal, reason string) (*mining.Wallet, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&walletRow{}).
			Where("student_id = ? AND institution_id = ?", studentID, institutionID).
			Update("balance", gorm.Expr("balance + ?", delta)).Error; err != nil {
			return err
		}
		return tx.Create(&adjustmentRow{StudentID: studentID, InstitutionID: institutionID, Delta: delta, Reason: reason}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Wallet(ctx, studentID, institutionID)
}

// InstitutionDirectory

func (s *PGStore) Institution(ctx context.Context, id string) (*mining.Institution, error) {
	var row institutionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PGStore) MinerJoined(ctx context.Context, id string, firstTime bool) error {
	updates := map[string]interface{}{"active_miners": gorm.Expr("active_miners + 1")}
	if firstTime {
		updates["total_miners"] = gorm.Expr("total_miners + 1")
	}
	return s.db.WithContext(ctx).Model(&institutionRow{}).Where("id = ?", id).Updates(updates).Error
}

func (s *PGStore) MinerLeft(ctx context.Context, id string, tokens decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&institutionRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"active_miners":      gorm.Expr("GREATEST(active_miners - 1, 0)"),
			"total_tokens_mined": gorm.Expr("total_tokens_mined + ?", tokens),
		}).Error
}

// AccountService. These tables are written by the account subsystem;
// the engine treats them as read-only ground truth.

func (s *PGStore) IsTracking(ctx context.Context, studentID, institutionID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&trackedRow{}).
		Where("student_id = ? AND institution_id = ?", studentID, institutionID).
		Count(&n).Error
	return n > 0, err
}

func (s *PGStore) ReferralCount(ctx context.Context, studentID, institutionID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&referralRow{}).
		Where("referrer_id = ? AND institution_id = ? AND active", studentID, institutionID).
		Count(&n).Error
	return int(n), err
}

func (s *PGStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// Row/domain mapping.

func sessionFromDomain(s *mining.Session) sessionRow {
	return sessionRow{
		SessionID:     s.SessionID,
		StudentID:     s.StudentID,
		InstitutionID: s.InstitutionID,
		StartTime:     s.StartTime,
		ScheduledEnd:  s.ScheduledEnd,
		Rate:          s.Rate,
		Active:        s.Active,
		TokensEarned:  s.TokensEarned,
		ClosedAt:      s.ClosedAt,
	}
}

func (r *sessionRow) toDomain() *mining.Session {
	return &mining.Session{
		SessionID:     r.SessionID,
		StudentID:     r.StudentID,
		InstitutionID: r.InstitutionID,
		StartTime:     r.StartTime,
		ScheduledEnd:  r.ScheduledEnd,
		Rate:          r.Rate,
		Active:        r.Active,
		TokensEarned:  r.TokensEarned,
		ClosedAt:      r.ClosedAt,
	}
}

func (r *walletRow) toDomain() *mining.Wallet {
	return &mining.Wallet{
		StudentID:     r.StudentID,
		InstitutionID: r.InstitutionID,
		Balance:       r.Balance,
		TotalMined:    r.TotalMined,
	}
}

func (r *institutionRow) toDomain() *mining.Institution {
	return &mining.Institution{
		ID:                r.ID,
		Name:              r.Name,
		BaseRate:          r.BaseRate,
		ReferralBonusRate: r.ReferralBonusRate,
		ActiveMiners:      r.ActiveMiners,
		TotalMiners:       r.TotalMiners,
		TotalTokensMined:  r.TotalTokensMined,
	}
}
