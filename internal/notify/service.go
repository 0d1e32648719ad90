package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"playlog/internal/config"
)

const userAgent = "playlog/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyRunStarted(ctx context.Context, pendingKeys int) error
	NotifyRunCompleted(ctx context.Context, fetched, notFound, failed int, duration time.Duration) error
	NotifyRateLimited(ctx context.Context, resumeAt time.Time) error
	NotifyMergeCompleted(ctx context.Context, rows int, outputPath string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, pendingKeys int) error {
	data := payload{
		title:   "Playlog - Run Started",
		message: fmt.Sprintf("Enriching %d pending keys", pendingKeys),
		tags:    []string{"playlog", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, fetched, notFound, failed int, duration time.Duration) error {
	data := payload{
		title: "Playlog - Run Complete",
		message: fmt.Sprintf("Fetched %d, not found %d, failed %d in %s",
			fetched, notFound, failed, duration.Round(time.Second)),
		tags: []string{"playlog", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRateLimited(ctx context.Context, resumeAt time.Time) error {
	data := payload{
		title: "Playlog - Rate Limited",
		message: fmt.Sprintf("Spotify quota exhausted, resume %s (%s)",
			humanize.Time(resumeAt), resumeAt.UTC().Format(time.RFC3339)),
		tags:     []string{"playlog", "ratelimit"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyMergeCompleted(ctx context.Context, rows int, outputPath string) error {
	data := payload{
		title:   "Playlog - Merge Complete",
		message: fmt.Sprintf("Merged %s rows into %s", humanize.Comma(int64(rows)), outputPath),
		tags:    []string{"playlog", "merge", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, context string) error {
	var builder strings.Builder
	builder.WriteString("Pipeline error")
	if context = strings.TrimSpace(context); context != "" {
		builder.WriteString(" during ")
		builder.WriteString(context)
	}
	if err != nil {
		builder.WriteString(": ")
		builder.WriteString(err.Error())
	}
	data := payload{
		title:    "Playlog - Error",
		message:  builder.String(),
		tags:     []string{"playlog", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Playlog - Test",
		message:  "Notification system test",
		tags:     []string{"playlog", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int) error                          { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, int, time.Duration) error { return nil }
func (noopService) NotifyRateLimited(context.Context, time.Time) error                   { return nil }
func (noopService) NotifyMergeCompleted(context.Context, int, string) error              { return nil }
func (noopService) NotifyError(context.Context, error, string) error                     { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
