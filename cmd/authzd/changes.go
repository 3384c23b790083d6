package main

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// watchChanges logs RBAC change events published in process. The service has
// already invalidated its own cache, so nothing else needs to happen here.
// It returns when ctx is done or the broadcaster drops the subscription.
func (a *app) watchChanges(ctx context.Context) error {
	log := a.logger.With(logger.Component("changes"))
	sub := a.changes.Subscribe(ctx)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Receive():
			if !ok {
				log.WarnContext(ctx, "change subscription closed")
				return nil
			}
			log.DebugContext(ctx, "rbac changed",
				logger.TenantID(event.TenantID),
				slog.String("scope", event.Scope),
				slog.Int("principals", len(event.AffectedPrincipalIDs)),
			)
		}
	}
}
