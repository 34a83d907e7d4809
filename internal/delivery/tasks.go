package delivery

import (
	"context"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/notify"
	"storefront/internal/storage"
)

// KickoffEmailTask sends the customer kickoff email.
func KickoffEmailTask(notifier *notify.Client) Task {
	return Task{
		Name: notify.DeliverableKickoff,
		Run: func(ctx context.Context, order *domain.Order) error {
			return notifier.Send(ctx, notify.DeliverableKickoff, order)
		},
	}
}

// AdminNoticeTask tells the operator about the new paid order.
func AdminNoticeTask(notifier *notify.Client) Task {
	return Task{
		Name: notify.DeliverableAdminNotice,
		Run: func(ctx context.Context, order *domain.Order) error {
			return notifier.Send(ctx, notify.DeliverableAdminNotice, order)
		},
	}
}

// WelcomePacketTask renders the welcome packet and stores it under a key
// derived from the order ID, so retries overwrite rather than duplicate.
func WelcomePacketTask(uploader storage.Uploader) Task {
	return Task{
		Name: "welcome_packet",
		Run: func(ctx context.Context, order *domain.Order) error {
			key := fmt.Sprintf("orders/%s/welcome-packet.txt", order.ID)
			_, err := uploader.Upload(ctx, key, renderWelcomePacket(order), "text/plain; charset=utf-8")
			return err
		},
	}
}

func renderWelcomePacket(order *domain.Order) []byte {
	name := order.CustomerName
	if name == "" {
		name = "Client"
	}
	return []byte(fmt.Sprintf(
		"Welcome Packet\n==============\n\nClient: %s\nPackage: %s\nOrder reference: %s\n\n"+
			"Inside you'll find the engagement outline, scheduling instructions and point of contact for your %s package.\n",
		name, order.Tier, order.SessionID, order.Tier,
	))
}
