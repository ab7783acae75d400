package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

type uploadResult struct {
	VideoID string `json:"video_id"`
}

type publishResult struct {
	PostID string `json:"post_id"`
}

type publishRequest struct {
	VideoID        string `json:"video_id"`
	Text           string `json:"text"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableDuet    bool   `json:"disable_duet"`
	DisableComment bool   `json:"disable_comment"`
	DisableStitch  bool   `json:"disable_stitch"`
}

// Publish uploads the media and publishes it with caption, returning the
// platform's post id. Every failure is a *model.PublishError.
func (c *Client) Publish(ctx context.Context, accessToken, mediaRef, caption string) (string, error) {
	videoID, err := c.upload(ctx, accessToken, mediaRef)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(publishRequest{VideoID: videoID, Text: caption, PrivacyLevel: "public"})
	if err != nil {
		return "", model.NewPermanentPublishError("encoding publish request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/video/publish/", bytes.NewReader(body))
	if err != nil {
		return "", model.NewPermanentPublishError("creating publish request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := do[publishResult](c, req, "publish")
	if err != nil {
		return "", err
	}
	if res.PostID == "" {
		return "", model.NewTransientPublishError("publish response missing post_id", nil)
	}
	return res.PostID, nil
}

func (c *Client) upload(ctx context.Context, accessToken, mediaRef string) (string, error) {
	if c.media == nil {
		return "", model.NewPermanentPublishError("no media store configured", nil)
	}

	rc, _, err := c.media.Open(ctx, mediaRef)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidInput) {
			return "", model.NewPermanentPublishError("media unavailable", err)
		}
		return "", model.NewTransientPublishError("opening media", err)
	}
	defer rc.Close()

	// Stream the file through a pipe rather than buffering whole videos.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("video", filepath.Base(mediaRef))
		if err == nil {
			_, err = io.Copy(part, rc)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/video/upload/", pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", model.NewPermanentPublishError("creating upload request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := do[uploadResult](c, req, "upload")
	// Unblock the writer goroutine if the transport stopped reading early.
	pr.Close()
	if err != nil {
		return "", err
	}
	if res.VideoID == "" {
		return "", model.NewTransientPublishError("upload response missing video_id", nil)
	}
	return res.VideoID, nil
}

// do sends req and classifies the outcome. Network errors, 429 and 5xx
// responses are transient; other 4xx responses and API error codes are
// permanent, except rate limiting.
func do[T any](c *Client, req *http.Request, step string) (T, error) {
	var zero T

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, model.NewTransientPublishError(step+" request failed", err)
	}
	defer resp.Body.Close()

	env, decodeErr := decodeEnvelope[T](resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, env.Error.Code == "access_token_invalid":
		return zero, model.NewTransientPublishError(
			fmt.Sprintf("%s: status %d %s", step, resp.StatusCode, env.Error), model.ErrAccessTokenRejected)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return zero, model.NewTransientPublishError(
			fmt.Sprintf("%s: status %d %s", step, resp.StatusCode, env.Error), nil)
	case resp.StatusCode >= 400:
		return zero, model.NewPermanentPublishError(
			fmt.Sprintf("%s: status %d %s", step, resp.StatusCode, env.Error), nil)
	case decodeErr != nil:
		return zero, model.NewTransientPublishError(step+" response unreadable", decodeErr)
	case env.Error.Code == "rate_limit_exceeded":
		return zero, model.NewTransientPublishError(step+": "+env.Error.String(), nil)
	case env.Error.failed():
		return zero, model.NewPermanentPublishError(step+": "+env.Error.String(), nil)
	}
	return env.Data, nil
}
