package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// --- Rooms ---

const roomColumns = `id, type, price, promo_price, currency, capacity, active, size, amenities, bed_type, view, description, images`

// UpsertRoom inserts r or replaces the row with the same room type.
func (s *Store) UpsertRoom(ctx context.Context, r knowledge.Room) (knowledge.Room, error) {
	if strings.TrimSpace(r.Type) == "" {
		return knowledge.Room{}, fmt.Errorf("room type is empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	amenities, err := json.Marshal(nonNil(r.Amenities))
	if err != nil {
		return knowledge.Room{}, err
	}
	images, err := json.Marshal(nonNil(r.Images))
	if err != nil {
		return knowledge.Room{}, err
	}
	var promo any
	if r.PromoPrice != nil {
		promo = *r.PromoPrice
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, type, price, promo_price, currency, capacity, active, size, amenities, bed_type, view, description, images, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			price = excluded.price, promo_price = excluded.promo_price, currency = excluded.currency,
			capacity = excluded.capacity, active = excluded.active, size = excluded.size,
			amenities = excluded.amenities, bed_type = excluded.bed_type, view = excluded.view,
			description = excluded.description, images = excluded.images, updated_at = excluded.updated_at
		RETURNING id`,
		r.ID, r.Type, r.Price, promo, r.Currency, r.Capacity, boolInt(r.Active), r.Size, string(amenities),
		r.BedType, r.View, r.Description, string(images), formatTime(time.Now()),
	).Scan(&r.ID)
	if err != nil {
		return knowledge.Room{}, fmt.Errorf("upserting room: %w", err)
	}
	return r, nil
}

// ListRooms returns rooms ordered by price. activeOnly limits the snapshot
// to bookable room types.
func (s *Store) ListRooms(ctx context.Context, activeOnly bool) ([]knowledge.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY price ASC, type ASC`
	return s.queryRooms(ctx, q)
}

// RoomsByType returns the rooms whose type is one of names. Names with no
// matching row are simply absent from the result.
func (s *Store) RoomsByType(ctx context.Context, names []string) ([]knowledge.Room, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE type IN (?` + strings.Repeat(",?", len(names)-1) + `)`
	return s.queryRooms(ctx, q, args...)
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	return affectedOne(res, err)
}

func (s *Store) queryRooms(ctx context.Context, q string, args ...any) ([]knowledge.Room, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Room
	for rows.Next() {
		var (
			r                 knowledge.Room
			promo             sql.NullFloat64
			active            int
			amenities, images string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Price, &promo, &r.Currency, &r.Capacity, &active, &r.Size,
			&amenities, &r.BedType, &r.View, &r.Description, &images); err != nil {
			return nil, err
		}
		if promo.Valid {
			p := promo.Float64
			r.PromoPrice = &p
		}
		r.Active = active == 1
		if err := json.Unmarshal([]byte(amenities), &r.Amenities); err != nil {
			return nil, fmt.Errorf("room %s amenities: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(images), &r.Images); err != nil {
			return nil, fmt.Errorf("room %s images: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// --- Promotions ---

const promoColumns = `id, code, description, discount_percent, valid_from, valid_until, active`

// UpsertPromotion inserts p or replaces the row with the same code.
func (s *Store) UpsertPromotion(ctx context.Context, p knowledge.Promotion) (knowledge.Promotion, error) {
	if strings.TrimSpace(p.Code) == "" {
		return knowledge.Promotion{}, fmt.Errorf("promotion code is empty")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO promotions (id, code, description, discount_percent, valid_from, valid_until, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			description = excluded.description, discount_percent = excluded.discount_percent,
			valid_from = excluded.valid_from, valid_until = excluded.valid_until,
			active = excluded.active, updated_at = excluded.updated_at
		RETURNING id`,
		p.ID, p.Code, p.Description, p.DiscountPercent, formatTime(p.ValidFrom), formatTime(p.ValidUntil),
		boolInt(p.Active), formatTime(time.Now()),
	).Scan(&p.ID)
	if err != nil {
		return knowledge.Promotion{}, fmt.Errorf("upserting promotion: %w", err)
	}
	return p, nil
}

// ListPromotions returns every promotion ordered by code.
func (s *Store) ListPromotions(ctx context.Context) ([]knowledge.Promotion, error) {
	return s.queryPromotions(ctx, `SELECT `+promoColumns+` FROM promotions ORDER BY code ASC`)
}

// ActivePromotions returns active promotions whose validity window contains now.
func (s *Store) ActivePromotions(ctx context.Context, now time.Time) ([]knowledge.Promotion, error) {
	ts := formatTime(now)
	return s.queryPromotions(ctx, `SELECT `+promoColumns+` FROM promotions
		WHERE active = 1 AND valid_from <= ? AND valid_until >= ?
		ORDER BY valid_until ASC, code ASC`, ts, ts)
}

func (s *Store) DeletePromotion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM promotions WHERE id = ?`, id)
	return affectedOne(res, err)
}

func (s *Store) queryPromotions(ctx context.Context, q string, args ...any) ([]knowledge.Promotion, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying promotions: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Promotion
	for rows.Next() {
		var (
			p           knowledge.Promotion
			from, until string
			active      int
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.DiscountPercent, &from, &until, &active); err != nil {
			return nil, err
		}
		if p.ValidFrom, err = parseTime(from); err != nil {
			return nil, fmt.Errorf("parsing valid_from: %w", err)
		}
		if p.ValidUntil, err = parseTime(until); err != nil {
			return nil, fmt.Errorf("parsing valid_until: %w", err)
		}
		p.Active = active == 1
		out = append(out, p)
	}
	return out, rows.Err()
}
