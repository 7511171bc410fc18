package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/m3upanel/internal/models"
)

const uniqueViolation = "23505"

const deviceColumns = `id, device_id, access_key_hash, mac_address,
	subscription_status, trial_expires_at, purchase_date, payment_reference,
	playlist_url, epg_url, created_at, last_updated`

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (device_id, access_key_hash, mac_address,
	                 subscription_status, trial_expires_at, playlist_url, epg_url,
	                 created_at, last_updated)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		device.DeviceID,
		device.AccessKeyHash,
		device.MacAddress,
		string(device.Subscription.Status),
		device.Subscription.TrialExpiresAt,
		device.PlaylistURL,
		device.EPGURL,
		device.CreatedAt,
		device.LastUpdated,
	).Scan(&device.ID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresDeviceRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`
	return r.getOne(ctx, query, deviceID)
}

func (r *PostgresDeviceRepository) getOne(ctx context.Context, query string, arg any) (*models.Device, error) {
	var (
		device models.Device
		status string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&device.ID,
		&device.DeviceID,
		&device.AccessKeyHash,
		&device.MacAddress,
		&status,
		&device.Subscription.TrialExpiresAt,
		&device.Subscription.PurchaseDate,
		&device.Subscription.PaymentReference,
		&device.PlaylistURL,
		&device.EPGURL,
		&device.CreatedAt,
		&device.LastUpdated,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	device.Subscription.Status = models.SubscriptionStatus(status)
	return &device, nil
}

func (r *PostgresDeviceRepository) UpdatePlaylist(ctx context.Context, id uuid.UUID, playlistURL, epgURL string, at time.Time) error {
	query := `UPDATE devices
	          SET playlist_url = $1, epg_url = $2, last_updated = $3
	          WHERE id = $4`

	result, err := r.pool.Exec(ctx, query, playlistURL, epgURL, at, id)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) ExpireTrial(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE devices
	          SET subscription_status = 'expired', last_updated = $2
	          WHERE id = $1 AND subscription_status = 'trial' AND trial_expires_at < $2`

	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire trial: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *PostgresDeviceRepository) Activate(ctx context.Context, id uuid.UUID, paymentReference string, at time.Time) error {
	query := `UPDATE devices
	          SET subscription_status = 'active', purchase_date = $1,
	              payment_reference = $2, last_updated = $1
	          WHERE id = $3 AND subscription_status <> 'active'`

	result, err := r.pool.Exec(ctx, query, at, nullIfEmpty(paymentReference), id)
	if err != nil {
		return fmt.Errorf("failed to activate device: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM devices WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyActive
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
