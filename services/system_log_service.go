package services

import (
	"context"
	"fmt"

	"smartcradle/models"
	"smartcradle/repositories"
)

// SystemLogService is the read side of the system log. Writes happen only
// inside the registries' own transactions.
type SystemLogService interface {
	List(ctx context.Context, page int, pageSize int) ([]models.SystemLog, int64, error)
}

type systemLogService struct {
	repo repositories.SystemLogRepository
}

var _ SystemLogService = (*systemLogService)(nil)

func NewSystemLogService(repo repositories.SystemLogRepository) SystemLogService {
	return &systemLogService{repo: repo}
}

func (s *systemLogService) List(ctx context.Context, page int, pageSize int) ([]models.SystemLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	entries, total, err := s.repo.List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list system logs: %w", err)
	}
	return entries, total, nil
}
