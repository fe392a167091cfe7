package app

import (
	"context"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

const (
	provisionTitle   = "Kiln approved for burning"
	provisionMessage = "Your kiln is now approved_for_burning and monitoring will start."
)

// ProvisionKiln marks the kiln of an approved request eligible for
// telemetry. Repeating the call succeeds and records one more notification.
func (s *Service) ProvisionKiln(ctx context.Context, caller identity.Account, permissionID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionProvisionKiln); err != nil {
		return nil, err
	}
	permission, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if permission.Status != store.PermissionApproved {
		return nil, stateConflict("PERMISSION_NOT_APPROVED",
			"Permission must be approved before provisioning kiln monitoring", permission.Status)
	}

	var kiln store.Kiln
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.MarkKilnApproved(ctx, permission.KilnID, permission.ID); err != nil {
			return err
		}
		kilnID, permID := permission.KilnID, permission.ID
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:           util.NewID("notif"),
			RecipientID:  permission.BurnerID,
			Type:         notificationPermission,
			Title:        provisionTitle,
			Message:      provisionMessage,
			KilnID:       &kilnID,
			PermissionID: &permID,
			CreatedAt:    s.timestamp(),
		}); err != nil {
			return err
		}
		updated, err := s.store.GetKiln(ctx, permission.KilnID)
		if err != nil {
			return lookupError(err, "Kiln")
		}
		kiln = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sendAsync(ctx, outbound{
		recipientID: permission.BurnerID,
		kind:        notificationPermission,
		title:       provisionTitle,
		body:        provisionMessage,
	})
	return kilnPayload(kiln), nil
}
