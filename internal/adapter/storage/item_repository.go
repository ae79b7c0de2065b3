package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.ItemRepository = (*SQLStore)(nil)

const itemColumns = `host_name, host_id, description, item_category, preferred_environment,
	packaging, callback_url, location, quantity, version, created_at, updated_at`

func (s *SQLStore) GetItem(ctx context.Context, key domain.ItemKey) (*domain.Item, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE host_name = ? AND host_id = ?`,
		key.HostName, key.HostID,
	)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, repoErr("query item", err)
	}
	return &item, nil
}

func (s *SQLStore) GetItemsByIDs(ctx context.Context, hostName string, hostIDs []string) ([]domain.Item, error) {
	if len(hostIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(hostIDs)+1)
	args = append(args, hostName)
	for _, id := range hostIDs {
		args = append(args, id)
	}

	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE host_name = ? AND host_id IN (`+placeholders(len(hostIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, repoErr("query items", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, repoErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("iterate items", err)
	}
	return items, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	item.Version = 0
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.HostName, item.HostID, item.Description, string(item.ItemCategory),
		string(item.PreferredEnvironment), string(item.Packaging), item.CallbackURL,
		item.Location, item.Quantity, item.Version,
		toMillis(item.CreatedAt), toMillis(item.UpdatedAt),
	)
	if isDuplicateKey(err) {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrDuplicateResource, item.Key())
	}
	if err != nil {
		return domain.Item{}, repoErr("insert item", err)
	}
	return item, nil
}

func (s *SQLStore) UpdateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE items
		SET description = ?, item_category = ?, preferred_environment = ?, packaging = ?,
			callback_url = ?, location = ?, quantity = ?, version = version + 1, updated_at = ?
		WHERE host_name = ? AND host_id = ? AND version = ?`,
		item.Description, string(item.ItemCategory), string(item.PreferredEnvironment),
		string(item.Packaging), item.CallbackURL, item.Location, item.Quantity,
		toMillis(item.UpdatedAt), item.HostName, item.HostID, item.Version,
	)
	if err != nil {
		return domain.Item{}, repoErr("update item", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.Item{}, fmt.Errorf("%w: item %s at version %d", ErrOptimisticLock, item.Key(), item.Version)
	}

	item.Version++
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item                           domain.Item
		category, environment, packing string
		createdAt, updatedAt           int64
	)
	err := row.Scan(
		&item.HostName, &item.HostID, &item.Description, &category, &environment,
		&packing, &item.CallbackURL, &item.Location, &item.Quantity, &item.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}

	item.ItemCategory = domain.ItemCategory(category)
	item.PreferredEnvironment = domain.Environment(environment)
	item.Packaging = domain.Packaging(packing)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}
