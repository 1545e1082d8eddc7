// Package fanout delivers persisted assignments to the downstream
// collaborators: the broadcast channel webhook and the per-user DM matcher.
// Both accept the canonical payload and answer {ok, action, response}; their
// internals (message formatting, tutor matching, Telegram retries) live on
// their side of the contract.
package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/buger/jsonparser"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
)

// Delivery is a collaborator's reply.
type Delivery struct {
	OK       bool            `json:"ok"`
	Action   string          `json:"action,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Fanout posts canonical payloads to the configured webhooks.
type Fanout struct {
	cfg    config.FanoutConfig
	client *http.Client
	store  *store.Store
	logger *slog.Logger
}

func New(cfg config.FanoutConfig, st *store.Store, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fanout{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		store:  st,
		logger: logger.With("component", "fanout"),
	}
}

// Broadcast posts the payload to the broadcast collaborator. When the reply
// names the downstream message, the back-reference is recorded so the expiry
// sweeper can find it.
func (f *Fanout) Broadcast(ctx context.Context, payload *models.AssignmentPayload, agency, externalID string) (*Delivery, error) {
	if !f.cfg.EnableBroadcast || f.cfg.BroadcastURL == "" {
		metrics.FanoutSends.WithLabelValues("broadcast", "disabled").Inc()
		return &Delivery{OK: true, Action: "disabled"}, nil
	}
	d, err := f.post(ctx, f.cfg.BroadcastURL, payload)
	if err != nil {
		metrics.FanoutSends.WithLabelValues("broadcast", "error").Inc()
		return nil, err
	}
	if !d.OK {
		metrics.FanoutSends.WithLabelValues("broadcast", "error").Inc()
		f.logger.Warn("broadcast rejected", "external_id", externalID, "reason", d.Error)
		return d, nil
	}
	metrics.FanoutSends.WithLabelValues("broadcast", "ok").Inc()
	f.recordBroadcast(ctx, d, agency, externalID)
	return d, nil
}

// DM posts the payload to the direct-message matcher.
func (f *Fanout) DM(ctx context.Context, payload *models.AssignmentPayload) (*Delivery, error) {
	if !f.cfg.EnableDMs || f.cfg.DMURL == "" {
		metrics.FanoutSends.WithLabelValues("dm", "disabled").Inc()
		return &Delivery{OK: true, Action: "disabled"}, nil
	}
	d, err := f.post(ctx, f.cfg.DMURL, payload)
	if err != nil {
		metrics.FanoutSends.WithLabelValues("dm", "error").Inc()
		return nil, err
	}
	if !d.OK {
		metrics.FanoutSends.WithLabelValues("dm", "error").Inc()
		return d, nil
	}
	metrics.FanoutSends.WithLabelValues("dm", "ok").Inc()
	return d, nil
}

func (f *Fanout) post(ctx context.Context, url string, body any) (*Delivery, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("collaborator replied %d: %s", resp.StatusCode, bytes.TrimSpace(head))
	}
	var d Delivery
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode collaborator reply: %w", err)
	}
	return &d, nil
}

// recordBroadcast stores where the downstream copy landed. Best-effort: the
// broadcast already happened, a missing back-reference only costs a later
// expiry delete.
func (f *Fanout) recordBroadcast(ctx context.Context, d *Delivery, agency, externalID string) {
	if len(d.Response) == 0 {
		return
	}
	chatID, errChat := jsonparser.GetInt(d.Response, "chat_id")
	msgID, errMsg := jsonparser.GetInt(d.Response, "message_id")
	if errChat != nil || errMsg != nil {
		return
	}
	ref := &models.BroadcastRef{
		Agency:      agency,
		ExternalID:  externalID,
		Destination: "broadcast",
		RemoteID:    fmt.Sprintf("%d:%d", chatID, msgID),
		SentAt:      time.Now().UTC(),
	}
	if err := f.store.Assignments.RecordBroadcast(ctx, ref); err != nil {
		f.logger.Warn("broadcast back-reference not recorded",
			"external_id", externalID, "error", err)
	}
}
