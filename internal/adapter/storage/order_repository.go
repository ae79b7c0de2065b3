package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.OrderRepository = (*SQLStore)(nil)

const orderColumns = `host_name, host_order_id, status, order_type, contact_person, contact_email,
	receiver, note, callback_url, version, created_at, updated_at`

func (s *SQLStore) GetOrder(ctx context.Context, key domain.OrderKey) (*domain.Order, error) {
	q := s.conn(ctx)

	var (
		order                domain.Order
		status, orderType    string
		receiver             string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE host_name = ? AND host_order_id = ?`,
		key.HostName, key.HostOrderID,
	).Scan(
		&order.HostName, &order.HostOrderID, &status, &orderType, &order.ContactPerson,
		&order.ContactEmail, &receiver, &order.Note, &order.CallbackURL, &order.Version,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, repoErr("query order", err)
	}

	order.Status = domain.OrderStatus(status)
	order.OrderType = domain.OrderType(orderType)
	order.CreatedAt = fromMillis(createdAt)
	order.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(receiver), &order.Receiver); err != nil {
		return nil, repoErr("decode receiver", err)
	}

	order.Lines, err = s.getLines(ctx, q, key)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *SQLStore) getLines(ctx context.Context, q querier, key domain.OrderKey) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT host_id, status FROM order_lines
		WHERE host_name = ? AND host_order_id = ?
		ORDER BY position`,
		key.HostName, key.HostOrderID,
	)
	if err != nil {
		return nil, repoErr("query order lines", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		var status string
		if err := rows.Scan(&line.HostID, &status); err != nil {
			return nil, repoErr("scan order line", err)
		}
		line.Status = domain.LineStatus(status)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("iterate order lines", err)
	}
	return lines, nil
}

func (s *SQLStore) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	receiver, err := json.Marshal(order.Receiver)
	if err != nil {
		return domain.Order{}, repoErr("encode receiver", err)
	}

	order.Version = 0
	err = s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.HostName, order.HostOrderID, string(order.Status), string(order.OrderType),
			order.ContactPerson, order.ContactEmail, string(receiver), order.Note,
			order.CallbackURL, order.Version, toMillis(order.CreatedAt), toMillis(order.UpdatedAt),
		)
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: order %s", domain.ErrDuplicateResource, order.Key())
		}
		if err != nil {
			return repoErr("insert order", err)
		}
		return insertLines(ctx, q, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// UpdateOrder rewrites the order row and replaces its lines.
func (s *SQLStore) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	receiver, err := json.Marshal(order.Receiver)
	if err != nil {
		return domain.Order{}, repoErr("encode receiver", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		result, err := q.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, order_type = ?, contact_person = ?, contact_email = ?, receiver = ?,
				note = ?, callback_url = ?, version = version + 1, updated_at = ?
			WHERE host_name = ? AND host_order_id = ? AND version = ?`,
			string(order.Status), string(order.OrderType), order.ContactPerson, order.ContactEmail,
			string(receiver), order.Note, order.CallbackURL, toMillis(order.UpdatedAt),
			order.HostName, order.HostOrderID, order.Version,
		)
		if err != nil {
			return repoErr("update order", err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("%w: order %s at version %d", ErrOptimisticLock, order.Key(), order.Version)
		}

		if err := deleteLines(ctx, q, order.Key()); err != nil {
			return err
		}
		return insertLines(ctx, q, order)
	})
	if err != nil {
		return domain.Order{}, err
	}

	order.Version++
	return order, nil
}

func (s *SQLStore) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		if err := deleteLines(ctx, q, key); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM orders WHERE host_name = ? AND host_order_id = ?`,
			key.HostName, key.HostOrderID,
		); err != nil {
			return repoErr("delete order", err)
		}
		return nil
	})
}

func insertLines(ctx context.Context, q querier, order domain.Order) error {
	for i, line := range order.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_lines (host_name, host_order_id, host_id, status, position)
			VALUES (?, ?, ?, ?, ?)`,
			order.HostName, order.HostOrderID, line.HostID, string(line.Status), i,
		)
		if err != nil {
			return repoErr("insert order line", err)
		}
	}
	return nil
}

func deleteLines(ctx context.Context, q querier, key domain.OrderKey) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM order_lines WHERE host_name = ? AND host_order_id = ?`,
		key.HostName, key.HostOrderID,
	)
	if err != nil {
		return repoErr("delete order lines", err)
	}
	return nil
}
