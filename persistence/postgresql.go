// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/game"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
)

// PostgreSQL is a MatchStore over database/sql with hand-written conditional
// updates. It exists alongside the GORM store for deployments that want the
// guards spelled out as plain SQL.
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL opens a raw PostgreSQL connection and creates the tables.
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

func initTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS matches (
            id SERIAL PRIMARY KEY,
            room_code TEXT UNIQUE NOT NULL,
            stake NUMERIC(20,9) NOT NULL,
            host_identity TEXT NOT NULL,
            opponent_identity TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            escrow_address TEXT NOT NULL DEFAULT '',
            host_deposited BOOLEAN NOT NULL DEFAULT FALSE,
            opponent_deposited BOOLEAN NOT NULL DEFAULT FALSE,
            host_choice TEXT NOT NULL DEFAULT '',
            opponent_choice TEXT NOT NULL DEFAULT '',
            winner_identity TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS match_records (
            id SERIAL PRIMARY KEY,
            room_code TEXT NOT NULL,
            host_identity TEXT NOT NULL,
            opponent_identity TEXT NOT NULL,
            stake NUMERIC(20,9) NOT NULL,
            winner_identity TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL,
            settled_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`)
	return err
}

const matchColumns = `room_code, stake, host_identity, opponent_identity, status,
    escrow_address, host_deposited, opponent_deposited, host_choice,
    opponent_choice, winner_identity, created_at, updated_at`

func scanMatch(row *sql.Row) (*models.Match, error) {
	var m models.Match
	var status, hostChoice, opponentChoice string
	err := row.Scan(&m.RoomCode, &m.Stake, &m.HostIdentity, &m.OpponentIdentity,
		&status, &m.EscrowAddress, &m.HostDeposited, &m.OpponentDeposited,
		&hostChoice, &opponentChoice, &m.WinnerIdentity, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Status = models.Status(status)
	m.HostChoice = game.Choice(hostChoice)
	m.OpponentChoice = game.Choice(opponentChoice)
	return &m, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-index
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgreSQL) CreateMatch(m *models.Match) error {
	_, err := p.db.Exec(`
        INSERT INTO matches (room_code, stake, host_identity, status)
        VALUES ($1, $2, $3, $4)`,
		m.RoomCode, m.Stake, m.HostIdentity, string(m.Status))
	// A room code collision must surface as ErrConflict so the caller can
	// regenerate, same as the other store implementations.
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgreSQL) GetMatch(roomCode string) (*models.Match, error) {
	row := p.db.QueryRow(`SELECT `+matchColumns+` FROM matches WHERE room_code = $1`, roomCode)
	return scanMatch(row)
}

func (p *PostgreSQL) FindPendingMatch(stake decimal.Decimal, excludeIdentity string) (*models.Match, error) {
	row := p.db.QueryRow(`
        SELECT `+matchColumns+` FROM matches
        WHERE status = $1 AND stake = $2 AND opponent_identity = '' AND host_identity <> $3
        ORDER BY created_at LIMIT 1`,
		string(models.StatusPending), stake, excludeIdentity)
	return scanMatch(row)
}

// guarded maps a zero-row conditional update to ErrNotFound or ErrConflict.
func (p *PostgreSQL) guarded(roomCode string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := p.db.QueryRow(`SELECT COUNT(*) FROM matches WHERE room_code = $1`, roomCode).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *PostgreSQL) AssignOpponent(roomCode, identity string) error {
	res, err := p.db.Exec(`
        UPDATE matches
        SET opponent_identity = $1, status = $2, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $3 AND status = $4 AND opponent_identity = '' AND host_identity <> $1`,
		identity, string(models.StatusAwaitingDeposits), roomCode, string(models.StatusPending))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) AttachEscrow(roomCode, address string) error {
	res, err := p.db.Exec(`
        UPDATE matches
        SET escrow_address = $1, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $2 AND escrow_address = '' AND status IN ($3, $4)`,
		address, roomCode, string(models.StatusPending), string(models.StatusAwaitingDeposits))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) ConfirmDeposit(roomCode string, role models.Role) (models.Status, error) {
	flag := "host_deposited"
	other := "opponent_deposited"
	if role == models.RoleOpponent {
		flag, other = other, flag
	}

	var status string
	err := p.db.QueryRow(fmt.Sprintf(`
        UPDATE matches
        SET %[1]s = TRUE,
            status = CASE WHEN %[2]s AND status = $1 THEN $2 ELSE status END,
            updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $3 AND status IN ($1, $4) AND %[1]s = FALSE
        RETURNING status`, flag, other),
		string(models.StatusAwaitingDeposits), string(models.StatusActive),
		roomCode, string(models.StatusPending)).
		Scan(&status)
	if err == sql.ErrNoRows {
		var count int
		if err := p.db.QueryRow(`SELECT COUNT(*) FROM matches WHERE room_code = $1`, roomCode).Scan(&count); err != nil {
			return "", err
		}
		if count == 0 {
			return "", ErrNotFound
		}
		return "", ErrConflict
	}
	if err != nil {
		return "", err
	}
	return models.Status(status), nil
}

func (p *PostgreSQL) RecordChoice(roomCode string, role models.Role, choice game.Choice) error {
	column := "host_choice"
	if role == models.RoleOpponent {
		column = "opponent_choice"
	}
	res, err := p.db.Exec(fmt.Sprintf(`
        UPDATE matches
        SET %[1]s = $1, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $2 AND status = $3 AND %[1]s = ''`, column),
		string(choice), roomCode, string(models.StatusActive))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) ResolveMatch(roomCode, winnerIdentity string) error {
	res, err := p.db.Exec(`
        UPDATE matches
        SET winner_identity = $1, status = $2, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $3 AND status = $4 AND host_choice <> '' AND opponent_choice <> ''`,
		winnerIdentity, string(models.StatusResolved), roomCode, string(models.StatusActive))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) MarkSettled(roomCode string) error {
	res, err := p.db.Exec(`
        UPDATE matches
        SET status = $1, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $2 AND status = $3`,
		string(models.StatusSettled), roomCode, string(models.StatusResolved))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) CancelMatch(roomCode string) error {
	res, err := p.db.Exec(`
        UPDATE matches
        SET status = $1, updated_at = CURRENT_TIMESTAMP
        WHERE room_code = $2 AND status IN ($3, $4)`,
		string(models.StatusCancelled), roomCode,
		string(models.StatusPending), string(models.StatusAwaitingDeposits))
	return p.guarded(roomCode, res, err)
}

func (p *PostgreSQL) FindStaleMatches(cutoff time.Time, limit int) ([]*models.Match, error) {
	rows, err := p.db.Query(`
        SELECT room_code FROM matches
        WHERE status IN ($1, $2) AND created_at < $3
        ORDER BY created_at LIMIT $4`,
		string(models.StatusPending), string(models.StatusAwaitingDeposits), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	matches := make([]*models.Match, 0, len(codes))
	for _, code := range codes {
		m, err := p.GetMatch(code)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (p *PostgreSQL) SaveMatchRecord(rec *models.MatchRecord) error {
	_, err := p.db.Exec(`
        INSERT INTO match_records (room_code, host_identity, opponent_identity, stake, winner_identity, outcome, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RoomCode, rec.HostIdentity, rec.OpponentIdentity, rec.Stake,
		rec.WinnerIdentity, rec.Outcome, rec.SettledAt)
	return err
}

func (p *PostgreSQL) GetIdentityStats(identity string) (*models.IdentityStats, error) {
	var stats models.IdentityStats
	var totalStaked decimal.NullDecimal
	err := p.db.QueryRow(`
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN winner_identity = $1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN winner_identity <> '' AND winner_identity <> $1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN outcome = 'tie' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(stake), 0)
        FROM match_records
        WHERE host_identity = $1 OR opponent_identity = $1`, identity).
		Scan(&stats.TotalMatches, &stats.Wins, &stats.Losses, &stats.Ties, &totalStaked)
	if err != nil {
		return nil, err
	}
	stats.TotalStaked = totalStaked.Decimal
	return &stats, nil
}

func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
