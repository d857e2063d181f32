package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/eroaming/hub/internal/partner"
)

// PartnerSource provides the point-in-time snapshot of active partners a
// broadcast fans out to.
type PartnerSource interface {
	ActivePartners() []partner.Partner
}

// Caller performs one protected start-charging exchange with one partner.
// Implementations never return errors; every fault is converted into a
// PartnerResponse record.
type Caller interface {
	SendStartCharging(ctx context.Context, p partner.Partner, uid string) PartnerResponse
}

// Orchestrator fans one UID out to all active partners under a global
// deadline and returns the first business success or an aggregated failure.
// Per-request state is owned by the single completion loop; workers hand
// completed responses over through the completion channel and never touch it
// directly.
type Orchestrator struct {
	partners PartnerSource
	caller   Caller
	pool     *WorkerPool
	metrics  *Metrics
	deadline time.Duration
	logger   *log.Logger
	closed   atomic.Bool
}

// NewOrchestrator wires the orchestrator. deadline is the global broadcast
// budget shared by every partner call.
func NewOrchestrator(partners PartnerSource, caller Caller, pool *WorkerPool, metrics *Metrics, deadline time.Duration) *Orchestrator {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &Orchestrator{
		partners: partners,
		caller:   caller,
		pool:     pool,
		metrics:  metrics,
		deadline: deadline,
		logger:   log.New(log.Writer(), "[BROADCAST] ", log.LstdFlags),
	}
}

// StartCharging broadcasts the UID to all active partners. It always returns
// a report; no partner fault is allowed to propagate out of the broadcast
// path.
func (o *Orchestrator) StartCharging(ctx context.Context, req Request) Response {
	start := time.Now()

	if o.closed.Load() {
		return Response{
			Success:     false,
			Message:     "Broadcast service is shutting down",
			TotalTimeMs: time.Since(start).Milliseconds(),
		}
	}

	active := o.partners.ActivePartners()
	o.logger.Printf("Starting broadcast to %d partners for UID: %s", len(active), req.UID)

	if len(active) == 0 {
		o.metrics.Failure.Inc()
		o.logger.Printf("⚠️ No active partners available for broadcast - UID: %s", req.UID)
		return Response{
			Success:     false,
			Message:     "No active partners available",
			TotalTimeMs: time.Since(start).Milliseconds(),
		}
	}

	bctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	// Completion queue: workers deliver responses in arrival order. Buffered
	// to the fan-out width so no worker ever blocks on delivery.
	completions := make(chan PartnerResponse, len(active))

	var firstSuccess atomic.Pointer[PartnerResponse]

	dispatched := 0
	for _, p := range active {
		p := p
		err := o.pool.Submit(func() {
			resp := o.caller.SendStartCharging(bctx, p, req.UID)
			if bctx.Err() != nil {
				// Cancelled sends must not contribute to the collected list.
				return
			}
			completions <- resp
		})
		if err != nil {
			o.logger.Printf("⚠️ Could not dispatch to partner %s: %v", p.ID, err)
			continue
		}
		dispatched++
	}

	collected := make([]PartnerResponse, 0, dispatched)

	// Single completion loop: observe responses strictly in arrival order
	// until everything answered, the deadline passed, or a success landed.
receive:
	for received := 0; received < dispatched; received++ {
		select {
		case resp := <-completions:
			collected = append(collected, resp)
			if resp.Success {
				r := resp
				if firstSuccess.CompareAndSwap(nil, &r) {
					o.metrics.EarlyTermination.Inc()
					o.logger.Printf("Early termination - First success from partner: %s, UID: %s",
						resp.PartnerID, req.UID)
					break receive
				}
			}
		case <-bctx.Done():
			break receive
		}
	}

	// Cancel all outstanding sends. Workers observe the cancelled context,
	// release their connections, and drop their responses.
	cancel()

	totalTime := time.Since(start).Milliseconds()
	response := o.buildResponse(collected, firstSuccess.Load(), req.UID, totalTime)

	o.metrics.Duration.Observe(time.Since(start).Seconds())
	if response.Success {
		o.metrics.Success.Inc()
		o.logger.Printf("Broadcast completed successfully - UID: %s, TotalTime: %dms", req.UID, totalTime)
	} else {
		o.metrics.Failure.Inc()
		o.logger.Printf("⚠️ Broadcast failed - UID: %s, TotalTime: %dms", req.UID, totalTime)
	}

	return response
}

// Shutdown stops accepting new broadcasts and drains the shared worker pool
// within the grace period.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.closed.Store(true)
	o.pool.Shutdown(grace)
}

func (o *Orchestrator) buildResponse(collected []PartnerResponse, first *PartnerResponse, uid string, totalTime int64) Response {
	successCount, timeoutCount, errorCount := 0, 0, 0
	for _, r := range collected {
		switch {
		case r.Success:
			successCount++
		case r.Timeout:
			timeoutCount++
		default:
			errorCount++
		}
	}

	o.logger.Printf("Broadcast summary - UID: %s, Responses: %d, Success: %d, Timeouts: %d, Errors: %d, TotalTime: %dms",
		uid, len(collected), successCount, timeoutCount, errorCount, totalTime)

	if first != nil {
		return Response{
			Success:           true,
			Message:           fmt.Sprintf("Charging started successfully with partner %s", first.PartnerID),
			RespondingPartner: first.PartnerID,
			PartnerResponses:  collected,
			TotalTimeMs:       totalTime,
		}
	}

	return Response{
		Success: false,
		Message: fmt.Sprintf(
			"No partner accepted the charging request. %d partners responded (%d success, %d timeouts, %d errors)",
			len(collected), successCount, timeoutCount, errorCount),
		PartnerResponses: collected,
		TotalTimeMs:      totalTime,
	}
}
