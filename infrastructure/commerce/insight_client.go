package commerce

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shelfwise/action-engine/domain/entity"
)

// ProposeActions fetches action candidates from the upstream
// recommendation engine. Proposals enter the pipeline like any other
// request; nothing about their origin bypasses validation or the gate.
func (g *HTTPGateway) ProposeActions(ctx context.Context, userID uuid.UUID) ([]*entity.ActionRequest, error) {
	var proposals []*entity.ActionRequest
	path := "/api/v1/insights/proposals?user_id=" + userID.String()
	if err := g.do(ctx, http.MethodGet, path, nil, &proposals); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch proposals for user %s", userID)
	}
	for _, proposal := range proposals {
		proposal.UserID = userID
	}
	return proposals, nil
}
