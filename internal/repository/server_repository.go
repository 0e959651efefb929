package repository

import (
	"context"
	"errors"

	"roombroker/internal/domain/server"
	broker_errors "roombroker/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) ServerRepository {
	return &PostgresServerRepository{db: db}
}

func (r *PostgresServerRepository) GetByID(ctx context.Context, id uuid.UUID) (server.Server, error) {
	var srv server.Server
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&srv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return server.Server{}, broker_errors.ErrNotFound
		}
		return server.Server{}, err
	}
	return srv, nil
}

func (r *PostgresServerRepository) List(ctx context.Context) ([]server.Server, error) {
	var servers []server.Server
	if err := r.db.WithContext(ctx).Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func (r *PostgresServerRepository) ListCandidates(ctx context.Context, poolID uuid.UUID) ([]server.Server, error) {
	var servers []server.Server
	err := r.db.WithContext(ctx).
		Joins("JOIN server_pool_members spm ON spm.server_id = servers.id").
		Where("spm.server_pool_id = ?", poolID).
		Where("servers.status = ?", server.StatusEnabled).
		Where("servers.health <> ?", server.HealthOffline).
		Order("servers.id").
		Find(&servers).Error
	if err != nil {
		return nil, err
	}
	return servers, nil
}

func (r *PostgresServerRepository) Update(ctx context.Context, srv server.Server) error {
	res := r.db.WithContext(ctx).Save(&srv)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return broker_errors.ErrNotFound
	}
	return nil
}
