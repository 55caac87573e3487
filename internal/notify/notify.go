// Package notify fans out alert-emitted and alert-resolved events to a
// configured webhook: a bounded queue drained by a worker goroutine with
// capped retries, generalized from a Slack-specific payload to a generic
// JSON webhook body.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/predmaint/alertcore/internal/observ"
)

// Event is the payload delivered to the webhook.
type Event struct {
	Type      string         `json:"type"` // "alert_emitted" | "alert_resolved"
	AlertID   string         `json:"alert_id"`
	MachineID string         `json:"machine_id"`
	AlertType string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type queuedEvent struct {
	event    Event
	attempts int
}

// Notifier queues events and delivers them to a webhook URL with capped
// retries; disabled notifiers drop events immediately.
type Notifier struct {
	enabled     bool
	url         string
	client      *http.Client
	queue       chan queuedEvent
	maxAttempts int

	mu     sync.Mutex
	cancel context.CancelFunc
}

const queueCapacity = 500

// New constructs a Notifier. When enabled is false, Send is a no-op.
func New(enabled bool, webhookURL string) *Notifier {
	n := &Notifier{
		enabled:     enabled,
		url:         webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedEvent, queueCapacity),
		maxAttempts: 3,
	}
	if enabled {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		go n.worker(ctx)
	}
	return n
}

// Send enqueues an event for delivery; it never blocks the caller beyond a
// full-queue drop.
func (n *Notifier) Send(evt Event) {
	if !n.enabled {
		return
	}
	select {
	case n.queue <- queuedEvent{event: evt}:
	default:
		observ.Log("notify_queue_full", zap.String("alert_id", evt.AlertID))
	}
}

// Stop halts the delivery worker.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qe := <-n.queue:
			n.deliver(ctx, qe)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, qe queuedEvent) {
	body, err := json.Marshal(qe.event)
	if err != nil {
		observ.LogError("notify_marshal_error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		observ.LogError("notify_request_error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	if err != nil || resp.StatusCode >= 500 {
		qe.attempts++
		if qe.attempts < n.maxAttempts {
			select {
			case n.queue <- qe:
			default:
			}
		} else {
			observ.Log("notify_delivery_dropped", zap.String("alert_id", qe.event.AlertID))
		}
		return
	}
	observ.IncCounter("notify_delivered_total", map[string]string{"type": qe.event.Type})
}
