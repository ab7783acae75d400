package driven

import "context"

// Publisher defines the driven port that uploads and publishes a video.
// Failures must be returned as *model.PublishError so the scheduler can tell
// transient from permanent outcomes; any other error is treated as transient.
type Publisher interface {
	Publish(ctx context.Context, accessToken, mediaRef, caption string) (externalID string, err error)
}
