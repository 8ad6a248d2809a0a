package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	subjectdomain "github.com/learnify/learnify/internal/subject/domain"
	"github.com/learnify/learnify/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) subjectdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subject.service"),
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, ownerID snowflake.ID, name string) (*subjectdomain.Subject, error) {
	name = strings.TrimSpace(name)
	if ownerID == 0 || name == "" {
		return nil, subjectdomain.ErrInvalidSubject
	}

	subject := &subjectdomain.Subject{
		ID:      s.genID.Generate(),
		OwnerID: ownerID,
		Name:    name,
		Slug:    slug.Make(name),
	}
	if err := s.db.WithContext(ctx).Create(subject).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, subjectdomain.ErrSubjectExists
		}
		return nil, err
	}
	return subject, nil
}

func (s *Service) List(ctx context.Context, ownerID snowflake.ID) ([]subjectdomain.Subject, error) {
	var subjects []subjectdomain.Subject
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&subjects).Error
	if err != nil {
		return nil, err
	}
	return subjects, nil
}
