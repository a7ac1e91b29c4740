package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
)

// RetryPolicy bounds how often and how long a failed unit of work is
// retried. Outbound delivery and inbound reprocessing carry separate
// policies: remote peers are often flaky or gone for good, while local
// contention is usually transient.
type RetryPolicy struct {
	MaxAttempts int
	Steps       []time.Duration
	Ceiling     time.Duration
}

// Backoff returns the wait before the given (1-based) attempt is
// retried.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(p.Steps) {
		idx = len(p.Steps) - 1
	}
	d := p.Steps[idx]
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// Inbound retries extend the shared table with a wider tail: the
// activity log is cheap to keep, so a stuck row waits out longer local
// outages instead of being abandoned.
var inboundBackoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

// OutboundPolicy governs deliveries to remote inboxes.
var OutboundPolicy = RetryPolicy{MaxAttempts: 6, Steps: backoffSteps, Ceiling: 24 * time.Hour}

// InboundPolicy governs reprocessing of stored inbound activities.
var InboundPolicy = RetryPolicy{MaxAttempts: 10, Steps: inboundBackoffSteps, Ceiling: 48 * time.Hour}

// deliveryLease is how long a claimed queue row is invisible to other
// claimer ticks while a worker holds it.
const deliveryLease = 2 * time.Minute

const deliveryBatch = 50

// permanentError marks a delivery failure that must never be retried,
// either a rejecting HTTP status or a local condition named by reason.
type permanentError struct {
	status int
	reason string
}

func (e *permanentError) Error() string {
	if e.reason != "" {
		return "permanent delivery failure: " + e.reason
	}
	return fmt.Sprintf("remote server returned permanent status %d", e.status)
}

// Enqueue queues an activity for at-least-once delivery to each inbox.
// The queue is keyed on (inbox, activity), so concurrent retries of the
// same logical delivery collapse to one row. Payloads over the size
// ceiling are dropped with a warning, never retried.
func (e *Engine) Enqueue(activityURI string, activityJSON []byte, inboxes []string) error {
	if int64(len(activityJSON)) > e.conf.Conf.MaxPayloadBytes {
		log.Printf("DeliveryWorker: Dropping oversized activity %s (%d bytes > %d)",
			activityURI, len(activityJSON), e.conf.Conf.MaxPayloadBytes)
		return nil
	}

	now := time.Now()
	for _, inbox := range inboxes {
		if inbox == "" {
			continue
		}
		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inbox,
			ActivityURI:  activityURI,
			ActivityJSON: string(activityJSON),
			Direction:    domain.DeliveryOutbound,
			Attempts:     0,
			NextRetryAt:  now,
			CreatedAt:    now,
		}
		if err := e.store.EnqueueDelivery(item); err != nil {
			return fmt.Errorf("failed to enqueue delivery to %s: %w", inbox, err)
		}
	}
	return nil
}

// startDeliveryWorkers launches the fixed worker pool and the claimer
// tick that feeds it from the durable queue.
func (e *Engine) startDeliveryWorkers() {
	workers := e.conf.Conf.DeliveryWorkers
	if workers < 1 {
		workers = 1
	}
	log.Printf("DeliveryWorker: Starting %d delivery workers", workers)

	ch := make(chan domain.DeliveryQueueItem)
	for i := 0; i < workers; i++ {
		go func() {
			for item := range ch {
				e.processDelivery(&item)
			}
		}()
	}

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		for range ticker.C {
			e.claimDeliveries(ch)
		}
	}()
}

// claimDeliveries pulls due queue rows and leases them to the worker
// pool. The lease bump keeps the next tick from handing the same row to
// a second worker.
func (e *Engine) claimDeliveries(ch chan<- domain.DeliveryQueueItem) {
	err, items := e.store.ReadPendingDeliveries(deliveryBatch)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	for _, item := range *items {
		if err := e.store.UpdateDeliveryAttempt(item.Id, item.Attempts, time.Now().Add(deliveryLease)); err != nil {
			log.Printf("DeliveryWorker: Failed to lease %s: %v", item.Id, err)
			continue
		}
		ch <- item
	}
}

// processDelivery attempts one delivery and settles the queue row:
// delete on success or permanent failure, reschedule with backoff on a
// transient failure until the attempt ceiling.
func (e *Engine) processDelivery(item *domain.DeliveryQueueItem) {
	err := e.deliver(item)
	if err == nil {
		log.Printf("DeliveryWorker: Delivered %s to %s", item.ActivityURI, item.InboxURI)
		if derr := e.store.DeleteDelivery(item.Id); derr != nil {
			log.Printf("DeliveryWorker: Failed to remove delivered item: %v", derr)
		}
		return
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		log.Printf("DeliveryWorker: Permanent failure delivering to %s, not retrying: %v", item.InboxURI, err)
		if derr := e.store.DeleteDelivery(item.Id); derr != nil {
			log.Printf("DeliveryWorker: Failed to remove failed item: %v", derr)
		}
		return
	}

	item.Attempts++
	if item.Attempts >= OutboundPolicy.MaxAttempts {
		log.Printf("DeliveryWorker: Giving up on %s after %d attempts: %v", item.InboxURI, item.Attempts, err)
		if derr := e.store.DeleteDelivery(item.Id); derr != nil {
			log.Printf("DeliveryWorker: Failed to remove abandoned item: %v", derr)
		}
		return
	}

	wait := OutboundPolicy.Backoff(item.Attempts)
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %s: %v",
		item.InboxURI, item.Attempts, wait, err)
	if uerr := e.store.UpdateDeliveryAttempt(item.Id, item.Attempts, time.Now().Add(wait)); uerr != nil {
		log.Printf("DeliveryWorker: Failed to reschedule item: %v", uerr)
	}
}

// deliver signs and POSTs one activity to one inbox.
func (e *Engine) deliver(item *domain.DeliveryQueueItem) error {
	var activity map[string]interface{}
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return &permanentError{reason: "stored activity is not valid json"}
	}

	actorURI, ok := activity["actor"].(string)
	if !ok {
		return &permanentError{reason: "stored activity has no actor"}
	}

	parts := strings.Split(actorURI, "/")
	username := parts[len(parts)-1]

	pair, err := e.keys.PrimaryKey(username)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if pair == nil {
		return &permanentError{reason: "no signing key for " + username}
	}

	privateKey, err := ParsePrivateKey(pair.PrivatePem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := newJSONRequest("POST", item.InboxURI, bytes.NewReader([]byte(item.ActivityJSON)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	keyID := actorURI + keyId(pair.Algorithm)
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps an HTTP status to success, a transient error or a
// permanent one. 4xx responses are permanent except 408 and 429; 410
// means the resource is gone for good.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("remote server returned status %d", status)
	case status == http.StatusGone:
		return &permanentError{status: status}
	case status >= 400 && status < 500:
		return &permanentError{status: status}
	default:
		return fmt.Errorf("remote server returned status %d", status)
	}
}

// startInboundReprocessor retries stored inbound activities that failed
// with a transient error, under the inbound policy.
func (e *Engine) startInboundReprocessor() {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for range ticker.C {
			e.reprocessInbound()
		}
	}()
}

func (e *Engine) reprocessInbound() {
	err, rows := e.store.ReadUnprocessedActivities(deliveryBatch)
	if err != nil {
		log.Printf("Reprocessor: Failed to read activity log: %v", err)
		return
	}
	if rows == nil || len(*rows) == 0 {
		return
	}

	for _, row := range *rows {
		var activity Activity
		if err := json.Unmarshal([]byte(row.RawJSON), &activity); err != nil {
			log.Printf("Reprocessor: Dropping unparseable stored activity %s", row.ActivityURI)
			e.store.MarkActivityProcessed(row.Id)
			continue
		}

		if err := e.dispatch(&activity, row.CreatedAt); err == nil {
			if merr := e.store.MarkActivityProcessed(row.Id); merr != nil {
				log.Printf("Reprocessor: Failed to mark %s processed: %v", row.ActivityURI, merr)
			}
			continue
		} else {
			attempts := row.Attempts + 1
			if attempts >= InboundPolicy.MaxAttempts {
				log.Printf("Reprocessor: Abandoning %s after %d attempts: %v", row.ActivityURI, attempts, err)
				e.store.MarkActivityProcessed(row.Id)
				continue
			}
			wait := InboundPolicy.Backoff(attempts)
			log.Printf("Reprocessor: Retry of %s failed (attempt %d), next in %s: %v", row.ActivityURI, attempts, wait, err)
			if uerr := e.store.UpdateActivityAttempt(row.Id, attempts, time.Now().Add(wait)); uerr != nil {
				log.Printf("Reprocessor: Failed to reschedule %s: %v", row.ActivityURI, uerr)
			}
		}
	}
}

// newJSONRequest builds an HTTP request with the federation content
// negotiation headers set.
func newJSONRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	return req, nil
}
