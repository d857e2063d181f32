// Package partnerclient turns a (partner, uid) pair into a single HTTP
// exchange protected by the partner's circuit breaker. Body format,
// authentication, response field extraction, and success matching are all
// driven by the partner's configuration alone.
package partnerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eroaming/hub/internal/broadcast"
	"github.com/eroaming/hub/internal/partner"
)

// Synthetic statuses used when no status could be extracted from a partner.
const (
	statusError           = "ERROR"
	statusCancelled       = "CANCELLED"
	statusBreakerOpen     = "CIRCUIT_BREAKER_OPEN"
	statusNotAvailable    = "N/A"
	statusExtractionError = "EXTRACTION_ERROR"
)

const maxResponseBytes = 1 << 20 // partner bodies are small JSON documents

// BreakerRegistry is the per-partner circuit breaker surface the client
// consumes.
type BreakerRegistry interface {
	Acquire(partnerID string) error
	RecordSuccess(partnerID string, duration time.Duration)
	RecordFailure(partnerID string, duration time.Duration, cause error)
	RecordCancellation(partnerID string)
}

// Client sends start-charging requests to partners.
type Client struct {
	http       *http.Client
	breakers   BreakerRegistry
	metrics    *Metrics
	maxTimeout time.Duration
	logger     *log.Logger
}

// New creates a partner client. maxTimeout caps per-partner deadlines at the
// global broadcast budget; partners configured above it are clamped with a
// warning.
func New(breakers BreakerRegistry, metrics *Metrics, maxTimeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			// Per-call deadlines come from the request context, not the
			// client, so cancellation can be driven externally.
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		breakers:   breakers,
		metrics:    metrics,
		maxTimeout: maxTimeout,
		logger:     log.New(log.Writer(), "[PARTNER-HTTP] ", log.LstdFlags),
	}
}

// SendStartCharging performs one protected exchange with one partner. Every
// fault is converted into a PartnerResponse record; this method never fails.
func (c *Client) SendStartCharging(ctx context.Context, p partner.Partner, uid string) broadcast.PartnerResponse {
	if err := c.breakers.Acquire(p.ID); err != nil {
		c.metrics.CircuitBreakerOpen.WithLabelValues(p.ID).Inc()
		c.logger.Printf("⚠️ Circuit breaker open for partner %s - returning immediate fallback", p.ID)
		return broadcast.PartnerResponse{
			PartnerID:          p.ID,
			Success:            false,
			Status:             statusBreakerOpen,
			Message:            "Service temporarily unavailable - circuit breaker open",
			ResponseTimeMs:     0,
			Timeout:            false,
			CircuitBreakerOpen: true,
		}
	}

	start := time.Now()

	body, contentType := buildRequestBody(p, uid)

	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if c.maxTimeout > 0 && timeout > c.maxTimeout {
		c.logger.Printf("⚠️ Partner %s timeout %s exceeds broadcast deadline, clamping to %s",
			p.ID, timeout, c.maxTimeout)
		timeout = c.maxTimeout
	}

	reqCtx, cancelReq := context.WithTimeout(ctx, timeout)
	defer cancelReq()

	method := p.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(reqCtx, method, p.RequestURL(), bytes.NewReader(body))
	if err != nil {
		return c.failure(p, err, time.Since(start))
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req, p)
	c.applyCustomHeaders(req, p)

	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		return c.failure(p, err, duration)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.failure(p, err, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.failure(p, fmt.Errorf("unexpected HTTP status %d from partner", resp.StatusCode), duration)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return c.failure(p, fmt.Errorf("unparseable response body: %w", err), duration)
	}

	status := extractFieldValue(p.ResponseStatusPath, parsed)
	message := extractFieldValue(p.ResponseMessagePath, parsed)
	success := matchesSuccessPattern(p.SuccessStatusPattern, status)

	c.breakers.RecordSuccess(p.ID, duration)
	c.metrics.BreakerSuccess.WithLabelValues(p.ID).Inc()
	c.metrics.Duration.WithLabelValues(p.ID).Observe(duration.Seconds())

	if success {
		c.metrics.Success.WithLabelValues(p.ID).Inc()
		c.logger.Printf("Partner request successful - Partner: %s, Time: %dms", p.ID, duration.Milliseconds())
	} else {
		c.metrics.Errors.WithLabelValues(p.ID).Inc()
		c.logger.Printf("⚠️ Partner request business failure - Partner: %s, Status: %s, Time: %dms",
			p.ID, status, duration.Milliseconds())
	}

	return broadcast.PartnerResponse{
		PartnerID:      p.ID,
		Success:        success,
		Status:         status,
		Message:        message,
		ResponseTimeMs: duration.Milliseconds(),
	}
}

// failure synthesizes the response for a transport-level fault and reports
// it to the breaker. Externally cancelled calls say nothing about partner
// health: the breaker gets its permit back and the window stays untouched.
// The per-call deadline surfaces as context.DeadlineExceeded, never as
// Canceled, so the two cannot be confused here.
func (c *Client) failure(p partner.Partner, cause error, duration time.Duration) broadcast.PartnerResponse {
	if errors.Is(cause, context.Canceled) {
		c.breakers.RecordCancellation(p.ID)
		c.logger.Printf("Partner request cancelled - Partner: %s, Time: %dms", p.ID, duration.Milliseconds())
		return broadcast.PartnerResponse{
			PartnerID:      p.ID,
			Success:        false,
			Status:         statusCancelled,
			Message:        cause.Error(),
			ResponseTimeMs: duration.Milliseconds(),
		}
	}

	c.breakers.RecordFailure(p.ID, duration, cause)
	c.metrics.BreakerFailure.WithLabelValues(p.ID).Inc()
	c.metrics.Duration.WithLabelValues(p.ID).Observe(duration.Seconds())

	timeout := isTimeoutError(cause)
	if timeout {
		c.metrics.Timeouts.WithLabelValues(p.ID).Inc()
		c.logger.Printf("⚠️ Partner request timeout - Partner: %s, Time: %dms", p.ID, duration.Milliseconds())
	} else {
		c.metrics.Errors.WithLabelValues(p.ID).Inc()
		c.logger.Printf("⚠️ Partner request technical error - Partner: %s, Error: %v, Time: %dms",
			p.ID, cause, duration.Milliseconds())
	}

	return broadcast.PartnerResponse{
		PartnerID:      p.ID,
		Success:        false,
		Status:         statusError,
		Message:        cause.Error(),
		ResponseTimeMs: duration.Milliseconds(),
		Timeout:        timeout,
	}
}

func (c *Client) applyAuth(req *http.Request, p partner.Partner) {
	switch p.AuthenticationType {
	case partner.AuthAPIKey:
		req.Header.Set("X-API-Key", p.APIKey)
	case partner.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	case partner.AuthBasic:
		user, password, found := strings.Cut(p.APIKey, ":")
		if !found {
			c.logger.Printf("⚠️ Invalid BASIC auth format for partner %s, sending without credentials", p.ID)
			return
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		req.Header.Set("Authorization", "Basic "+credentials)
	}
}

// applyCustomHeaders merges the partner's custom headers last: on conflict
// the custom value wins, but overriding content-type or authentication is
// surprising enough to warn about.
func (c *Client) applyCustomHeaders(req *http.Request, p partner.Partner) {
	for name, value := range p.CustomHeaders {
		canonical := http.CanonicalHeaderKey(name)
		if (canonical == "Content-Type" || canonical == "Authorization") && req.Header.Get(canonical) != "" {
			c.logger.Printf("⚠️ Partner %s custom header overrides %s", p.ID, canonical)
		}
		req.Header.Set(name, value)
	}
}

// ============================================================================
// REQUEST SHAPING
// ============================================================================

func buildRequestBody(p partner.Partner, uid string) (body []byte, contentType string) {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	requestID := uuid.NewString()

	switch p.RequestFormat {
	case partner.FormatXML:
		return buildXMLBody(p.UIDFieldName, uid, timestamp, requestID), "application/xml"

	case partner.FormatFormData:
		form := url.Values{}
		form.Set(p.UIDFieldName, uid)
		form.Set("timestamp", timestamp)
		form.Set("requestId", requestID)
		return []byte(form.Encode()), "application/x-www-form-urlencoded"

	default:
		// JSON, including unknown formats falling back to it.
		payload := map[string]string{
			p.UIDFieldName: uid,
			"timestamp":    timestamp,
			"requestId":    requestID,
		}
		raw, _ := json.Marshal(payload)
		return raw, "application/json"
	}
}

func buildXMLBody(uidField, uid, timestamp, requestID string) []byte {
	field := escapeXML(uidField)

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<StartChargingRequest>")
	fmt.Fprintf(&b, "<%s>%s</%s>", field, escapeXML(uid), field)
	fmt.Fprintf(&b, "<timestamp>%s</timestamp>", timestamp)
	fmt.Fprintf(&b, "<requestId>%s</requestId>", requestID)
	b.WriteString("</StartChargingRequest>")
	return b.Bytes()
}

func escapeXML(s string) string {
	var b bytes.Buffer
	// EscapeText only fails on writer errors, which bytes.Buffer never has.
	xml.EscapeText(&b, []byte(s)) //nolint:errcheck
	return b.String()
}

// ============================================================================
// RESPONSE INTERPRETATION
// ============================================================================

// extractFieldValue walks a dot-separated path through nested JSON objects.
// A missing key or non-object intermediate yields "N/A"; an unexpected fault
// while traversing yields "EXTRACTION_ERROR".
func extractFieldValue(path string, response map[string]interface{}) (value string) {
	if path == "" || response == nil {
		return statusNotAvailable
	}

	defer func() {
		if r := recover(); r != nil {
			value = statusExtractionError
		}
	}()

	var current interface{} = response
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return statusNotAvailable
		}
		current, ok = obj[part]
		if !ok || current == nil {
			return statusNotAvailable
		}
	}

	return fmt.Sprintf("%v", current)
}

// matchesSuccessPattern reports whether the extracted status equals any of
// the comma-separated pattern tokens, case-insensitively and ignoring
// surrounding whitespace.
func matchesSuccessPattern(pattern, status string) bool {
	if status == "" {
		return false
	}
	for _, token := range strings.Split(pattern, ",") {
		if strings.EqualFold(strings.TrimSpace(token), strings.TrimSpace(status)) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
