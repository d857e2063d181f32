// Package partner manages charge-point operator configurations: the partner
// record itself, the bounded TTL cache the broadcast path reads from, and the
// Postgres-backed configuration repository behind it.
package partner

import (
	"errors"
	"fmt"
	"strings"
)

// AuthenticationType selects how the outbound request authenticates.
type AuthenticationType string

const (
	AuthNone   AuthenticationType = "NONE"
	AuthAPIKey AuthenticationType = "API_KEY"
	AuthBearer AuthenticationType = "BEARER"
	AuthBasic  AuthenticationType = "BASIC"
)

// RequestFormat selects the outbound body encoding.
type RequestFormat string

const (
	FormatJSON     RequestFormat = "JSON"
	FormatXML      RequestFormat = "XML"
	FormatFormData RequestFormat = "FORM_DATA"
)

// Status is the lifecycle state of a partner configuration.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Partner is the decrypted, cache-resident configuration of one charge-point
// operator. Values are immutable once handed out by the cache; mutation only
// happens through the write-through path.
type Partner struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	BaseURL               string             `json:"baseUrl"`
	StartChargingEndpoint string             `json:"startChargingEndpoint"`
	HTTPMethod            string             `json:"httpMethod"`
	AuthenticationType    AuthenticationType `json:"authenticationType"`
	APIKey                string             `json:"apiKey,omitempty"`
	RequestFormat         RequestFormat      `json:"requestFormat"`
	UIDFieldName          string             `json:"uidFieldName"`
	SuccessStatusPattern  string             `json:"successStatusPattern"`
	ResponseStatusPath    string             `json:"responseStatusPath"`
	ResponseMessagePath   string             `json:"responseMessagePath"`
	TimeoutMs             int                `json:"timeoutMs"`
	CustomHeaders         map[string]string  `json:"customHeaders,omitempty"`
}

// RequestURL is the outbound target: base URL and endpoint concatenated
// verbatim, no path normalization.
func (p Partner) RequestURL() string {
	return p.BaseURL + p.StartChargingEndpoint
}

// Normalize fills the documented defaults for optional fields and clamps the
// per-request timeout to a sane minimum.
func (p *Partner) Normalize() {
	if p.HTTPMethod == "" {
		p.HTTPMethod = "POST"
	}
	if p.AuthenticationType == "" {
		p.AuthenticationType = AuthNone
	}
	if p.RequestFormat == "" {
		p.RequestFormat = FormatJSON
	}
	if p.UIDFieldName == "" {
		p.UIDFieldName = "uid"
	}
	if p.SuccessStatusPattern == "" {
		p.SuccessStatusPattern = "success"
	}
	if p.ResponseStatusPath == "" {
		p.ResponseStatusPath = "status"
	}
	if p.ResponseMessagePath == "" {
		p.ResponseMessagePath = "message"
	}
	if p.TimeoutMs == 0 {
		p.TimeoutMs = 5000
	}
	if p.TimeoutMs < 1 {
		p.TimeoutMs = 1
	}
}

// Validate checks the invariants enforced on the write path. The broadcast
// path never sees a partner that fails these checks.
func (p Partner) Validate() error {
	if p.ID == "" {
		return errors.New("partner id is required")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("partner %s: base URL is required", p.ID)
	}
	if p.StartChargingEndpoint == "" {
		return fmt.Errorf("partner %s: start charging endpoint is required", p.ID)
	}
	if p.TimeoutMs < 0 {
		return fmt.Errorf("partner %s: timeout must be positive", p.ID)
	}
	switch p.AuthenticationType {
	case AuthNone, "":
	case AuthAPIKey, AuthBearer:
		if p.APIKey == "" {
			return fmt.Errorf("partner %s: %s auth requires an api key", p.ID, p.AuthenticationType)
		}
	case AuthBasic:
		if !strings.Contains(p.APIKey, ":") {
			return fmt.Errorf("partner %s: BASIC auth requires user:password credentials", p.ID)
		}
	default:
		return fmt.Errorf("partner %s: unknown authentication type %q", p.ID, p.AuthenticationType)
	}
	switch p.RequestFormat {
	case FormatJSON, FormatXML, FormatFormData, "":
	default:
		return fmt.Errorf("partner %s: unknown request format %q", p.ID, p.RequestFormat)
	}
	return nil
}
