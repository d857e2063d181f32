// Package broadcast implements the fan-out orchestration of start-charging
// requests: one UID is dispatched to every active partner in parallel under a
// global deadline, the first business success wins, and still-in-flight
// siblings are cancelled.
package broadcast

// Request is the inbound broadcast envelope. The UID is opaque to the hub;
// its semantics are entirely defined by partners.
type Request struct {
	UID string `json:"uid"`
}

// PartnerResponse is the outcome of one partner attempt. Synthetic statuses
// (ERROR, NETWORK_ERROR, CIRCUIT_BREAKER_OPEN) are used when no status could
// be extracted from a partner body.
type PartnerResponse struct {
	PartnerID          string `json:"partnerId"`
	Success            bool   `json:"success"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	ResponseTimeMs     int64  `json:"responseTimeMs"`
	Timeout            bool   `json:"timeout"`
	CircuitBreakerOpen bool   `json:"circuitBreakerOpen"`
}

// Response is the aggregated broadcast report.
type Response struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	RespondingPartner string            `json:"respondingPartner,omitempty"`
	PartnerResponses  []PartnerResponse `json:"partnerResponses"`
	TotalTimeMs       int64             `json:"totalTimeMs"`
}
