package services

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
	"github.com/benefitsai/portal-engine/pkg/models"
)

// RosterService supplies the candidate principals a session can select.
// The roster file is the external identity source; the portal only requires
// each member to carry a non-empty email.
type RosterService interface {
	Members() []models.Principal
	ByID(memberID string) (*models.Principal, error)
}

type rosterService struct {
	members []models.Principal
	byID    map[string]*models.Principal
	logger  *zap.Logger
}

var _ RosterService = (*rosterService)(nil)

type rosterFile struct {
	Members []models.Principal `yaml:"members"`
}

// LoadRoster reads the member roster from a YAML file.
func LoadRoster(path string, logger *zap.Logger) (RosterService, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}

	return NewRoster(file.Members, logger)
}

// NewRoster builds a roster service from an in-memory member list.
func NewRoster(members []models.Principal, logger *zap.Logger) (RosterService, error) {
	s := &rosterService{
		members: members,
		byID:    make(map[string]*models.Principal, len(members)),
		logger:  logger.Named("roster"),
	}
	for i := range members {
		m := &members[i]
		if m.ID == "" {
			return nil, fmt.Errorf("roster member %d has no member_id", i)
		}
		s.byID[m.ID] = m
	}

	s.logger.Info("Loaded member roster", zap.Int("members", len(members)))
	return s, nil
}

func (s *rosterService) Members() []models.Principal {
	out := make([]models.Principal, len(s.members))
	copy(out, s.members)
	return out
}

func (s *rosterService) ByID(memberID string) (*models.Principal, error) {
	m, ok := s.byID[memberID]
	if !ok {
		return nil, fmt.Errorf("member %q: %w", memberID, apperrors.ErrPrincipalNotFound)
	}

	// Copy so callers can never mutate the roster's view of a member.
	clone := *m
	if err := clone.Validate(); err != nil {
		return nil, fmt.Errorf("member %q: %w", memberID, err)
	}
	return &clone, nil
}
