package pricing

import (
	"errors"
	"strings"
)

var ErrPackageNotFound = errors.New("package_not_found")

// Service answers cost and catalog questions against the active table.
type Service struct {
	holder *Holder
}

func NewService(holder *Holder) *Service {
	return &Service{holder: holder}
}

// ModelCost returns the credit cost of one call to the given model. Unknown
// or empty models fall back to the table's fallback cost.
func (s *Service) ModelCost(model string) int64 {
	table := s.holder.Get()
	model = strings.TrimSpace(model)
	for _, m := range table.Models {
		if m.ID == model {
			return m.Credits
		}
	}
	return table.FallbackCredits
}

// QuizCost is the flat cost of a quiz generation.
func (s *Service) QuizCost() int64 {
	return s.holder.Get().QuizCredits
}

// DefaultModel returns the model flagged as default, or the first model.
func (s *Service) DefaultModel() ModelPrice {
	table := s.holder.Get()
	for _, m := range table.Models {
		if m.IsDefault {
			return m
		}
	}
	return table.Models[0]
}

// BasicModel returns the cheapest model. Quiz generation uses it regardless
// of the model the student chats with, to keep the flat quiz cost honest.
func (s *Service) BasicModel() ModelPrice {
	table := s.holder.Get()
	basic := table.Models[0]
	for _, m := range table.Models[1:] {
		if m.Credits < basic.Credits {
			basic = m
		}
	}
	return basic
}

func (s *Service) Models() []ModelPrice {
	return s.holder.Get().Models
}

func (s *Service) Packages() []Package {
	return s.holder.Get().Packages
}

func (s *Service) PackageByID(id string) (Package, error) {
	id = strings.TrimSpace(id)
	for _, pkg := range s.holder.Get().Packages {
		if pkg.ID == id {
			return pkg, nil
		}
	}
	return Package{}, ErrPackageNotFound
}
