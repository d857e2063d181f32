package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eroaming/hub/internal/broadcast"
	"github.com/eroaming/hub/internal/partner"
)

type fakeBroadcaster struct {
	lastUID  string
	response broadcast.Response
}

func (f *fakeBroadcaster) StartCharging(ctx context.Context, req broadcast.Request) broadcast.Response {
	f.lastUID = req.UID
	return f.response
}

type fakeAdmin struct {
	partners  []partner.Partner
	createErr error
	updateErr error

	disabled  []string
	refreshed int
}

func (f *fakeAdmin) ActivePartners() []partner.Partner { return f.partners }

func (f *fakeAdmin) Create(ctx context.Context, p partner.Partner) (partner.Partner, error) {
	if f.createErr != nil {
		return partner.Partner{}, f.createErr
	}
	p.Normalize()
	return p, nil
}

func (f *fakeAdmin) Update(ctx context.Context, p partner.Partner) (partner.Partner, error) {
	if f.updateErr != nil {
		return partner.Partner{}, f.updateErr
	}
	return p, nil
}

func (f *fakeAdmin) Disable(ctx context.Context, id string) error {
	f.disabled = append(f.disabled, id)
	return nil
}

func (f *fakeAdmin) Refresh(ctx context.Context) { f.refreshed++ }

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) PublishPartnerChanged(ctx context.Context, partnerID string) {
	f.published = append(f.published, partnerID)
}

func newTestServer(b Broadcaster, admin PartnerAdmin, pub ChangePublisher) *httptest.Server {
	srv := httptest.NewServer(NewServer(b, admin, pub, nil).Router())
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestStartChargingSuccess(t *testing.T) {
	b := &fakeBroadcaster{response: broadcast.Response{
		Success:           true,
		Message:           "Charging started successfully with partner cpo-1",
		RespondingPartner: "cpo-1",
	}}
	srv := newTestServer(b, &fakeAdmin{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/broadcast/start-charging", map[string]string{"uid": "EVSE-001"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EVSE-001", b.lastUID)

	var out broadcast.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "cpo-1", out.RespondingPartner)
}

func TestStartChargingBroadcastFailure(t *testing.T) {
	b := &fakeBroadcaster{response: broadcast.Response{
		Success: false,
		Message: "No partner accepted the charging request. 2 partners responded (0 success, 1 timeouts, 1 errors)",
	}}
	srv := newTestServer(b, &fakeAdmin{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/broadcast/start-charging", map[string]string{"uid": "EVSE-001"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartChargingMissingUID(t *testing.T) {
	b := &fakeBroadcaster{}
	srv := newTestServer(b, &fakeAdmin{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/broadcast/start-charging", map[string]string{})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out broadcast.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "UID is required", out.Message)
	assert.Empty(t, b.lastUID, "broadcast must not run for an empty UID")
}

func TestStartChargingInvalidBody(t *testing.T) {
	srv := newTestServer(&fakeBroadcaster{}, &fakeAdmin{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/broadcast/start-charging", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPartnersRedactsAPIKeys(t *testing.T) {
	admin := &fakeAdmin{partners: []partner.Partner{{
		ID:     "cpo-1",
		APIKey: "super-secret",
	}}}
	srv := newTestServer(&fakeBroadcaster{}, admin, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/partners")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Count    int               `json:"count"`
		Partners []partner.Partner `json:"partners"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Count)
	assert.Empty(t, out.Partners[0].APIKey)
}

func TestCreatePartnerPublishesChange(t *testing.T) {
	pub := &fakePublisher{}
	srv := newTestServer(&fakeBroadcaster{}, &fakeAdmin{}, pub)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/partners", partner.Partner{
		ID:                    "cpo-new",
		BaseURL:               "https://new.example.com",
		StartChargingEndpoint: "/start",
		APIKey:                "secret",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{""}, pub.published)

	var created partner.Partner
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "cpo-new", created.ID)
	assert.Empty(t, created.APIKey)
}

func TestCreatePartnerValidationError(t *testing.T) {
	admin := &fakeAdmin{createErr: fmt.Errorf("partner id is required")}
	pub := &fakePublisher{}
	srv := newTestServer(&fakeBroadcaster{}, admin, pub)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/partners", partner.Partner{})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, pub.published)
}

func TestUpdatePartnerUsesPathID(t *testing.T) {
	pub := &fakePublisher{}
	srv := newTestServer(&fakeBroadcaster{}, &fakeAdmin{}, pub)
	defer srv.Close()

	raw, _ := json.Marshal(partner.Partner{ID: "ignored", BaseURL: "https://x", StartChargingEndpoint: "/s"})
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/partners/cpo-7", bytes.NewReader(raw))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"cpo-7"}, pub.published)

	var updated partner.Partner
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "cpo-7", updated.ID)
}

func TestDisablePartner(t *testing.T) {
	admin := &fakeAdmin{}
	pub := &fakePublisher{}
	srv := newTestServer(&fakeBroadcaster{}, admin, pub)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/partners/cpo-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"cpo-1"}, admin.disabled)
	assert.Equal(t, []string{"cpo-1"}, pub.published)
}

func TestRefreshPartners(t *testing.T) {
	admin := &fakeAdmin{}
	pub := &fakePublisher{}
	srv := newTestServer(&fakeBroadcaster{}, admin, pub)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/partners/refresh", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, admin.refreshed)
	assert.Equal(t, []string{""}, pub.published)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(&fakeBroadcaster{}, &fakeAdmin{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/broadcast/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
