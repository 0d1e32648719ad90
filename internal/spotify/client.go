package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"playlog/internal/logging"
	"playlog/internal/metastore"
	"playlog/internal/pipeline"
	"playlog/internal/trackkey"
)

// EnrichmentSource identifies API-fetched metadata in merged output.
const EnrichmentSource = "api"

// defaultRetryAfter applies when a 429 response carries no Retry-After
// header.
const defaultRetryAfter = time.Hour

// RateLimitError reports that the API refused further requests, or that a
// previously persisted cooldown is still in effect.
type RateLimitError struct {
	RetryAfter time.Duration
	Until      time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("spotify rate limited until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, pipeline.ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == pipeline.ErrRateLimited
}

// Config carries the settings the client needs.
type Config struct {
	ClientID        string
	ClientSecret    string
	BaseURL         string
	TokenURL        string
	RequestInterval time.Duration
}

// Client looks up track metadata one key at a time, pacing requests and
// short-circuiting while a cooldown is active.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cooldown   *Cooldown
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the OAuth-authenticated HTTP client. Intended for
// tests that stub the API with httptest.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the time source used for cooldown checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Spotify client.
func New(cfg Config, cooldown *Cooldown, logger *slog.Logger, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("spotify base url required")
	}
	if cooldown == nil {
		return nil, errors.New("cooldown store required")
	}
	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}

	client := &Client{
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		cooldown: cooldown,
		logger:   logging.NewComponentLogger(logger, "spotify"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, errors.New("spotify client credentials required")
		}
		tokenURL := strings.TrimSpace(cfg.TokenURL)
		if tokenURL == "" {
			return nil, errors.New("spotify token url required")
		}
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		}
		client.httpClient = creds.Client(context.Background())
		client.httpClient.Timeout = 30 * time.Second
	}

	return client, nil
}

// Lookup fetches metadata for one (track, artist) key. Outcomes:
//   - (*metastore.Record, nil) on a hit
//   - pipeline.ErrNotFound when the search returns no result
//   - *RateLimitError when the API signals quota exhaustion or a persisted
//     cooldown is still active
//   - a transient error for network or decode failures
//
// A hit triggers a second request for the artist record (genres, follower
// and popularity figures); failure there degrades to a partial record
// rather than an error.
func (c *Client) Lookup(ctx context.Context, track, artist string) (*metastore.Record, error) {
	if until, active := c.cooldown.Active(c.now()); active {
		return nil, &RateLimitError{Until: until, RetryAfter: until.Sub(c.now())}
	}

	item, err := c.search(ctx, track, artist)
	if err != nil {
		return nil, err
	}

	rec := &metastore.Record{
		TrackName:                 strings.TrimSpace(track),
		ArtistName:                strings.TrimSpace(artist),
		Key:                       trackkey.Normalize(track, artist),
		FetchedAt:                 c.now().UTC(),
		SpotifyID:                 item.ID,
		SpotifyURI:                item.URI,
		TrackPopularity:           item.Popularity,
		TrackDurationMS:           item.DurationMS,
		TrackExplicit:             item.Explicit,
		TrackPreviewURL:           item.PreviewURL,
		AlbumName:                 item.Album.Name,
		AlbumReleaseDate:          item.Album.ReleaseDate,
		AlbumReleaseDatePrecision: item.Album.ReleaseDatePrecision,
		AlbumTotalTracks:          item.Album.TotalTracks,
		AlbumType:                 item.Album.AlbumType,
	}

	if len(item.Artists) > 0 && item.Artists[0].ID != "" {
		artistRec, err := c.artistDetails(ctx, item.Artists[0].ID)
		if err != nil {
			var rateErr *RateLimitError
			if errors.As(err, &rateErr) {
				return nil, err
			}
			// Partial record: the track hit stands on its own.
			c.logger.Warn("artist details unavailable",
				logging.String("artist_id", item.Artists[0].ID),
				logging.Error(err))
		} else {
			rec.ArtistPopularity = artistRec.Popularity
			rec.ArtistFollowers = artistRec.Followers.Total
			rec.APIGenres = artistRec.Genres
		}
	}

	return rec, nil
}

type trackItem struct {
	ID         string `json:"id"`
	URI        string `json:"uri"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
	DurationMS int64  `json:"duration_ms"`
	Explicit   bool   `json:"explicit"`
	PreviewURL string `json:"preview_url"`
	Album      struct {
		Name                 string `json:"name"`
		ReleaseDate          string `json:"release_date"`
		ReleaseDatePrecision string `json:"release_date_precision"`
		TotalTracks          int    `json:"total_tracks"`
		AlbumType            string `json:"album_type"`
	} `json:"album"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
}

type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type artistResponse struct {
	Popularity int      `json:"popularity"`
	Genres     []string `json:"genres"`
	Followers  struct {
		Total int64 `json:"total"`
	} `json:"followers"`
}

func (c *Client) search(ctx context.Context, track, artist string) (*trackItem, error) {
	endpoint, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	params := url.Values{}
	params.Set("q", fmt.Sprintf("track:%s artist:%s", strings.TrimSpace(track), strings.TrimSpace(artist)))
	params.Set("type", "track")
	params.Set("limit", "1")
	endpoint.RawQuery = params.Encode()

	var payload searchResponse
	if err := c.get(ctx, endpoint.String(), &payload); err != nil {
		return nil, err
	}
	if len(payload.Tracks.Items) == 0 {
		return nil, fmt.Errorf("%w: no search result for %q by %q", pipeline.ErrNotFound, track, artist)
	}
	return &payload.Tracks.Items[0], nil
}

func (c *Client) artistDetails(ctx context.Context, artistID string) (*artistResponse, error) {
	var payload artistResponse
	if err := c.get(ctx, c.baseURL+"/artists/"+url.PathEscape(artistID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) get(ctx context.Context, endpoint string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrTransient, "spotify", "execute request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.recordRateLimit(resp)
	case resp.StatusCode != http.StatusOK:
		return pipeline.Wrap(pipeline.ErrTransient, "spotify",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return pipeline.Wrap(pipeline.ErrTransient, "spotify", "decode response", err)
	}
	return nil
}

func (c *Client) recordRateLimit(resp *http.Response) error {
	retryAfter := defaultRetryAfter
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	until := c.now().Add(retryAfter)
	if err := c.cooldown.Set(until, "spotify api returned 429"); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "spotify", "persist cooldown", err)
	}
	c.logger.Warn("spotify rate limited, cooldown recorded",
		logging.Duration("retry_after", retryAfter),
		logging.Time("until", until))
	return &RateLimitError{RetryAfter: retryAfter, Until: until}
}
