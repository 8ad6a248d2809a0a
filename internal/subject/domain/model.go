package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrSubjectExists  = errors.New("subject_exists")
)

// Subject is a user-defined study area. The slug is derived from the name
// and unique per owner.
type Subject struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"not null;uniqueIndex:uq_subjects_owner_slug" json:"owner_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:uq_subjects_owner_slug" json:"slug"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Subject) TableName() string { return "subjects" }

type Service interface {
	Create(ctx context.Context, ownerID snowflake.ID, name string) (*Subject, error)
	List(ctx context.Context, ownerID snowflake.ID) ([]Subject, error)
}
