// Package categories manages the task category catalogue.
package categories

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, c *models.Category) error
	List(ctx context.Context) ([]*models.Category, error)
}

type Service interface {
	Create(ctx context.Context, name, description string) (*models.Category, error)
	List(ctx context.Context) ([]*models.Category, error)
}

type service struct {
	store Store
}

func NewService(store Store) *service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

var slugSanitize = regexp.MustCompile(`[^a-z0-9-]+`)

// slugFromName lowercases and hyphenates name and appends an 8-char suffix
// so two categories with the same name still get distinct slugs.
func slugFromName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "-")
	s = slugSanitize.ReplaceAllString(s, "")
	if s == "" {
		s = "category"
	}
	return s + "-" + uuid.New().String()[:8]
}

func (s *service) Create(ctx context.Context, name, description string) (*models.Category, error) {
	c := &models.Category{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Slug:        slugFromName(name),
		Description: strings.TrimSpace(description),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) List(ctx context.Context) ([]*models.Category, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Category{}
	}
	return list, nil
}
