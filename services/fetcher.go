package services

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"audio-converter/models"
)

// Audio is a fetched recording. ContentType is always lowercase.
type Audio struct {
	Data        []byte
	ContentType string
}

type objectGetter interface {
	Get(ctx context.Context, bucket, key string) (Audio, error)
}

// newHTTPClient has no client-wide timeout; every call is bounded by its
// context instead.
func newHTTPClient() *http.Client {
	return &http.Client{}
}

// FetchService downloads source audio. It never retries; a failed record is
// picked up again on a later run.
type FetchService struct {
	client  *http.Client
	objects objectGetter
}

func NewFetchService(objects objectGetter) *FetchService {
	return &FetchService{
		client: newHTTPClient(),
		objects: objects,
	}
}

func (f *FetchService) Fetch(ctx context.Context, locator string) (Audio, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return Audio{}, models.StageErrorf(models.KindFetch, "invalid audio location %q: %w", locator, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "s3":
		if f.objects == nil {
			return Audio{}, models.StageErrorf(models.KindFetch, "no object storage configured for %q", locator)
		}
		audio, err := f.objects.Get(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return Audio{}, models.NewStageError(models.KindFetch, err)
		}
		return audio, nil
	default:
		return Audio{}, models.StageErrorf(models.KindFetch, "unsupported audio location scheme %q", u.Scheme)
	}
}

func (f *FetchService) fetchHTTP(ctx context.Context, rawURL string) (Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Audio{}, models.StageErrorf(models.KindFetch, "failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Audio{}, models.StageErrorf(models.KindFetch, "audio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Audio{}, models.StageErrorf(models.KindFetch, "audio source returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, models.StageErrorf(models.KindFetch, "failed to read audio body: %w", err)
	}

	return Audio{
		Data:        data,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
	}, nil
}
