package services

import (
	"context"

	"roombroker/internal/domain/server"
	"roombroker/internal/repository"
	broker_errors "roombroker/pkg/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// SelectorService picks the target server for a new meeting. Selection is
// advisory: it reserves nothing, and the next usage sweep corrects any
// race between concurrent selections.
type SelectorService struct {
	servers repository.ServerRepository
}

func NewSelectorService(servers repository.ServerRepository) *SelectorService {
	return &SelectorService{servers: servers}
}

// SelectServer returns the enabled, non-offline pool member with the
// lowest load/strength ratio. Servers that have not reported usage yet
// sort first: no load data usually means freshly recovered, which is
// exactly where new meetings should land. Candidates arrive ordered by id
// so ties resolve deterministically.
func (s *SelectorService) SelectServer(ctx context.Context, poolID uuid.UUID) (server.Server, error) {
	candidates, err := s.servers.ListCandidates(ctx, poolID)
	if err != nil {
		return server.Server{}, err
	}
	if len(candidates) == 0 {
		return server.Server{}, broker_errors.ErrNoServerAvailable
	}

	best := lo.MinBy(candidates, func(a server.Server, b server.Server) bool {
		aRatio, aKnown := a.LoadRatio()
		bRatio, bKnown := b.LoadRatio()
		if aKnown != bKnown {
			return !aKnown
		}
		return aKnown && aRatio < bRatio
	})
	return best, nil
}
