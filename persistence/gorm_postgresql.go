// persistence/gorm_postgresql.go
package persistence

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bigbagadawgz/wager-paper-scissors/game"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
)

// GormPostgreSQL is the primary MatchStore backed by GORM/PostgreSQL.
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL opens the database connection and migrates the schema.
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&MatchModel{}, &MatchRecordModel{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// MatchModel is the GORM row for a match. Optional string columns use the
// empty string, not NULL, so conditional guards stay simple.
type MatchModel struct {
	ID                uint            `gorm:"primaryKey"`
	RoomCode          string          `gorm:"uniqueIndex;not null"`
	Stake             decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	HostIdentity      string          `gorm:"not null"`
	OpponentIdentity  string          `gorm:"not null;default:''"`
	Status            string          `gorm:"index;not null"`
	EscrowAddress     string          `gorm:"not null;default:''"`
	HostDeposited     bool            `gorm:"not null;default:false"`
	OpponentDeposited bool            `gorm:"not null;default:false"`
	HostChoice        string          `gorm:"not null;default:''"`
	OpponentChoice    string          `gorm:"not null;default:''"`
	WinnerIdentity    string          `gorm:"not null;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MatchRecordModel is the settled-match history row.
type MatchRecordModel struct {
	ID               uint            `gorm:"primaryKey"`
	RoomCode         string          `gorm:"index;not null"`
	HostIdentity     string          `gorm:"index;not null"`
	OpponentIdentity string          `gorm:"index;not null"`
	Stake            decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	WinnerIdentity   string          `gorm:"not null;default:''"`
	Outcome          string          `gorm:"not null"`
	SettledAt        time.Time
}

func toMatch(row *MatchModel) *models.Match {
	return &models.Match{
		RoomCode:          row.RoomCode,
		Stake:             row.Stake,
		HostIdentity:      row.HostIdentity,
		OpponentIdentity:  row.OpponentIdentity,
		Status:            models.Status(row.Status),
		EscrowAddress:     row.EscrowAddress,
		HostDeposited:     row.HostDeposited,
		OpponentDeposited: row.OpponentDeposited,
		HostChoice:        game.Choice(row.HostChoice),
		OpponentChoice:    game.Choice(row.OpponentChoice),
		WinnerIdentity:    row.WinnerIdentity,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

// mapCreateError translates a duplicate-key failure into ErrConflict so a
// room code collision is retryable through every store implementation.
func mapCreateError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (p *GormPostgreSQL) CreateMatch(m *models.Match) error {
	row := MatchModel{
		RoomCode:     m.RoomCode,
		Stake:        m.Stake,
		HostIdentity: m.HostIdentity,
		Status:       string(m.Status),
	}
	return mapCreateError(p.db.Create(&row).Error)
}

func (p *GormPostgreSQL) GetMatch(roomCode string) (*models.Match, error) {
	var row MatchModel
	if err := p.db.Where("room_code = ?", roomCode).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMatch(&row), nil
}

func (p *GormPostgreSQL) FindPendingMatch(stake decimal.Decimal, excludeIdentity string) (*models.Match, error) {
	var row MatchModel
	err := p.db.
		Where("status = ? AND stake = ? AND opponent_identity = '' AND host_identity <> ?",
			string(models.StatusPending), stake, excludeIdentity).
		Order("created_at").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMatch(&row), nil
}

// guarded runs a conditional update and maps a zero-row result to either
// ErrNotFound or ErrConflict depending on whether the match exists at all.
func (p *GormPostgreSQL) guarded(roomCode string, tx *gorm.DB) error {
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := p.db.Model(&MatchModel{}).Where("room_code = ?", roomCode).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *GormPostgreSQL) AssignOpponent(roomCode, identity string) error {
	tx := p.db.Model(&MatchModel{}).
		Where("room_code = ? AND status = ? AND opponent_identity = '' AND host_identity <> ?",
			roomCode, string(models.StatusPending), identity).
		Updates(map[string]interface{}{
			"opponent_identity": identity,
			"status":            string(models.StatusAwaitingDeposits),
		})
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) AttachEscrow(roomCode, address string) error {
	tx := p.db.Model(&MatchModel{}).
		Where("room_code = ? AND escrow_address = '' AND status IN ?",
			roomCode, []string{string(models.StatusPending), string(models.StatusAwaitingDeposits)}).
		Update("escrow_address", address)
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) ConfirmDeposit(roomCode string, role models.Role) (models.Status, error) {
	flag := "host_deposited"
	other := "opponent_deposited"
	if role == models.RoleOpponent {
		flag, other = other, flag
	}

	// Flag set and activation happen in one statement so a racing
	// confirmation for the other side cannot leave the match stuck.
	tx := p.db.Model(&MatchModel{}).
		Where(fmt.Sprintf("room_code = ? AND status IN ? AND %s = false", flag),
			roomCode, []string{string(models.StatusPending), string(models.StatusAwaitingDeposits)}).
		Updates(map[string]interface{}{
			flag: true,
			"status": gorm.Expr(
				fmt.Sprintf("CASE WHEN %s AND status = ? THEN ? ELSE status END", other),
				string(models.StatusAwaitingDeposits), string(models.StatusActive)),
		})
	if err := p.guarded(roomCode, tx); err != nil {
		return "", err
	}

	m, err := p.GetMatch(roomCode)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

func (p *GormPostgreSQL) RecordChoice(roomCode string, role models.Role, choice game.Choice) error {
	column := "host_choice"
	if role == models.RoleOpponent {
		column = "opponent_choice"
	}
	tx := p.db.Model(&MatchModel{}).
		Where(fmt.Sprintf("room_code = ? AND status = ? AND %s = ''", column),
			roomCode, string(models.StatusActive)).
		Update(column, string(choice))
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) ResolveMatch(roomCode, winnerIdentity string) error {
	tx := p.db.Model(&MatchModel{}).
		Where("room_code = ? AND status = ? AND host_choice <> '' AND opponent_choice <> ''",
			roomCode, string(models.StatusActive)).
		Updates(map[string]interface{}{
			"winner_identity": winnerIdentity,
			"status":          string(models.StatusResolved),
		})
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) MarkSettled(roomCode string) error {
	tx := p.db.Model(&MatchModel{}).
		Where("room_code = ? AND status = ?", roomCode, string(models.StatusResolved)).
		Update("status", string(models.StatusSettled))
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) CancelMatch(roomCode string) error {
	tx := p.db.Model(&MatchModel{}).
		Where("room_code = ? AND status IN ?", roomCode,
			[]string{string(models.StatusPending), string(models.StatusAwaitingDeposits)}).
		Update("status", string(models.StatusCancelled))
	return p.guarded(roomCode, tx)
}

func (p *GormPostgreSQL) FindStaleMatches(cutoff time.Time, limit int) ([]*models.Match, error) {
	var rows []MatchModel
	err := p.db.
		Where("status IN ? AND created_at < ?",
			[]string{string(models.StatusPending), string(models.StatusAwaitingDeposits)}, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	matches := make([]*models.Match, 0, len(rows))
	for i := range rows {
		matches = append(matches, toMatch(&rows[i]))
	}
	return matches, nil
}

func (p *GormPostgreSQL) SaveMatchRecord(rec *models.MatchRecord) error {
	row := MatchRecordModel{
		RoomCode:         rec.RoomCode,
		HostIdentity:     rec.HostIdentity,
		OpponentIdentity: rec.OpponentIdentity,
		Stake:            rec.Stake,
		WinnerIdentity:   rec.WinnerIdentity,
		Outcome:          rec.Outcome,
		SettledAt:        rec.SettledAt,
	}
	return p.db.Create(&row).Error
}

func (p *GormPostgreSQL) GetIdentityStats(identity string) (*models.IdentityStats, error) {
	var stats models.IdentityStats
	var totalStaked decimal.NullDecimal

	err := p.db.Transaction(func(tx *gorm.DB) error {
		row := tx.Raw(`
        SELECT
            COUNT(*) AS total_matches,
            COALESCE(SUM(CASE WHEN winner_identity = ? THEN 1 ELSE 0 END), 0) AS wins,
            COALESCE(SUM(CASE WHEN winner_identity <> '' AND winner_identity <> ? THEN 1 ELSE 0 END), 0) AS losses,
            COALESCE(SUM(CASE WHEN outcome = 'tie' THEN 1 ELSE 0 END), 0) AS ties
        FROM match_record_models
        WHERE host_identity = ? OR opponent_identity = ?`,
			identity, identity, identity, identity).
			Row()
		if err := row.Scan(&stats.TotalMatches, &stats.Wins, &stats.Losses, &stats.Ties); err != nil {
			return err
		}

		row = tx.Raw(`
        SELECT COALESCE(SUM(stake), 0)
        FROM match_record_models
        WHERE host_identity = ? OR opponent_identity = ?`,
			identity, identity).
			Row()
		return row.Scan(&totalStaked)
	})
	if err != nil {
		return nil, err
	}
	stats.TotalStaked = totalStaked.Decimal
	return &stats, nil
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
