package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"tcsgo-engine/internal/model"
)

// MySQLLinkRepository implements LinkRepository using MySQL.
type MySQLLinkRepository struct {
	db *sql.DB
}

// NewMySQLLinkRepository creates a new MySQL link repository and ensures the
// schema exists.
func NewMySQLLinkRepository(db *sql.DB) (*MySQLLinkRepository, error) {
	r := &MySQLLinkRepository{db: db}
	if err := r.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create link tables: %w", err)
	}
	return r, nil
}

func (r *MySQLLinkRepository) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS account_links (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			link_group BIGINT NOT NULL,
			platform VARCHAR(32) NOT NULL,
			username VARCHAR(128) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_identity (platform, username),
			KEY idx_link_group (link_group)
		)`
	_, err := r.db.Exec(query)
	return err
}

func normalize(identity model.Identity) (string, string) {
	return strings.ToLower(strings.TrimSpace(identity.Platform)),
		strings.ToLower(strings.TrimSpace(identity.Username))
}

// groupOf returns the link group for an identity, or 0 when unlinked.
func (r *MySQLLinkRepository) groupOf(ctx context.Context, identity model.Identity) (int64, error) {
	platform, username := normalize(identity)
	query := `SELECT link_group FROM account_links WHERE platform = ? AND username = ? LIMIT 1`

	var group int64
	err := r.db.QueryRowContext(ctx, query, platform, username).Scan(&group)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to look up link group: %w", err)
	}
	return group, nil
}

// ResolveLinks returns the identity's whole link group.
func (r *MySQLLinkRepository) ResolveLinks(ctx context.Context, identity model.Identity) ([]model.Identity, error) {
	group, err := r.groupOf(ctx, identity)
	if err != nil {
		return nil, err
	}
	if group == 0 {
		return []model.Identity{identity}, nil
	}

	query := `SELECT platform, username FROM account_links WHERE link_group = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list link group: %w", err)
	}
	defer rows.Close()

	var linked []model.Identity
	for rows.Next() {
		var id model.Identity
		if err := rows.Scan(&id.Platform, &id.Username); err != nil {
			return nil, fmt.Errorf("failed to scan link row: %w", err)
		}
		linked = append(linked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read link rows: %w", err)
	}
	if len(linked) == 0 {
		return []model.Identity{identity}, nil
	}
	return linked, nil
}

// CreateLink links two identities, merging their groups when both already
// belong to one.
func (r *MySQLLinkRepository) CreateLink(ctx context.Context, a, b model.Identity) error {
	groupA, err := r.groupOf(ctx, a)
	if err != nil {
		return err
	}
	groupB, err := r.groupOf(ctx, b)
	if err != nil {
		return err
	}

	switch {
	case groupA == 0 && groupB == 0:
		res, err := r.insert(ctx, a, 0)
		if err != nil {
			return err
		}
		// First member's row id doubles as the group id.
		group, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new link group id: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE account_links SET link_group = ? WHERE id = ?`, group, group); err != nil {
			return fmt.Errorf("failed to seed link group: %w", err)
		}
		if _, err := r.insert(ctx, b, group); err != nil {
			return err
		}
		log.Printf("[LinkRepository] Created link group %d for %s and %s", group, a.Key(), b.Key())
		return nil

	case groupA != 0 && groupB == 0:
		_, err := r.insert(ctx, b, groupA)
		return err

	case groupA == 0 && groupB != 0:
		_, err := r.insert(ctx, a, groupB)
		return err

	case groupA == groupB:
		return nil

	default:
		// Merge B's group into A's.
		if _, err := r.db.ExecContext(ctx, `UPDATE account_links SET link_group = ? WHERE link_group = ?`, groupA, groupB); err != nil {
			return fmt.Errorf("failed to merge link groups: %w", err)
		}
		log.Printf("[LinkRepository] Merged link group %d into %d", groupB, groupA)
		return nil
	}
}

func (r *MySQLLinkRepository) insert(ctx context.Context, identity model.Identity, group int64) (sql.Result, error) {
	platform, username := normalize(identity)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO account_links (link_group, platform, username) VALUES (?, ?, ?)`,
		group, platform, username)
	if err != nil {
		return nil, fmt.Errorf("failed to insert link for %s: %w", identity.Key(), err)
	}
	return res, nil
}

// RemoveLink detaches an identity from its group.
func (r *MySQLLinkRepository) RemoveLink(ctx context.Context, identity model.Identity) error {
	platform, username := normalize(identity)
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM account_links WHERE platform = ? AND username = ?`,
		platform, username)
	if err != nil {
		return fmt.Errorf("failed to remove link for %s: %w", identity.Key(), err)
	}
	return nil
}

// Close closes the database connection.
func (r *MySQLLinkRepository) Close() error {
	return r.db.Close()
}

// Ensure MySQLLinkRepository implements LinkRepository
var _ LinkRepository = (*MySQLLinkRepository)(nil)
