package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

// Report is the compact triage record for a skipped or failed job.
type Report struct {
	ChannelRef string `json:"channel_ref"`
	MessageID  string `json:"message_id"`
	CID        string `json:"cid,omitempty"`
	Kind       string `json:"kind"`
	Stage      string `json:"stage,omitempty"`
	Reason     string `json:"reason"`
	TextHead   string `json:"text_head,omitempty"`
}

// Triage posts reports to the triage webhook so a human can review what the
// pipeline refused. Best-effort: a dead webhook never changes a job outcome.
type Triage struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewTriage returns a reporter for the webhook, or a no-op one when the URL
// is empty.
func NewTriage(url string, timeout time.Duration, logger *slog.Logger) *Triage {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Triage{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "triage"),
	}
}

// Report posts rep to the webhook. Failures are logged and counted, nothing
// more.
func (t *Triage) Report(ctx context.Context, rep Report) {
	if t == nil || t.url == "" {
		return
	}
	rep.TextHead = pipeline.Truncate(rep.TextHead)
	body, err := json.Marshal(rep)
	if err != nil {
		t.logger.Warn("triage report not serializable", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("triage report not delivered", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.FanoutSends.WithLabelValues("triage", "error").Inc()
		t.logger.Warn("triage report not delivered", "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.FanoutSends.WithLabelValues("triage", "error").Inc()
		t.logger.Warn("triage webhook refused report", "status", resp.StatusCode)
		return
	}
	metrics.FanoutSends.WithLabelValues("triage", "ok").Inc()
}
