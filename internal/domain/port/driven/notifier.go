package driven

import (
	"context"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// Notifier delivers lifecycle notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}
