package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) CreateToken(params *twilioApi.CreateTokenParams) (*twilioApi.ApiV2010Token, error) {
	args := m.Called(params)
	token, _ := args.Get(0).(*twilioApi.ApiV2010Token)
	return token, args.Error(1)
}

var stun = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

func decode(t *testing.T, rec *httptest.ResponseRecorder) models.ICEServersResponse {
	t.Helper()
	var resp models.ICEServersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetIceServersFallback(t *testing.T) {
	h := NewIceHandler("", "", stun)

	rec := httptest.NewRecorder()
	h.GetIceServers(rec, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, resp.ICEServers[0].URLs)
	assert.Empty(t, resp.ICEServers[0].Credential)
}

func TestGetIceServersTwilio(t *testing.T) {
	tokens := &mockTokens{}
	servers := []twilioApi.ApiV2010AccountTokenIceServers{
		{Url: "turn:global.turn.twilio.com:3478?transport=udp", Username: "u", Credential: "c"},
	}
	tokens.On("CreateToken", mock.Anything).Return(&twilioApi.ApiV2010Token{IceServers: &servers}, nil)
	h := NewIceHandler("", "", stun).WithTokenCreator(tokens)

	rec := httptest.NewRecorder()
	h.GetIceServers(rec, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	resp := decode(t, rec)
	require.Len(t, resp.ICEServers, 1)
	assert.Equal(t, "u", resp.ICEServers[0].Username)
	assert.Equal(t, "c", resp.ICEServers[0].Credential)
	tokens.AssertExpectations(t)
}

func TestGetIceServersTwilioError(t *testing.T) {
	tokens := &mockTokens{}
	tokens.On("CreateToken", mock.Anything).Return(nil, assert.AnError)
	h := NewIceHandler("", "", stun).WithTokenCreator(tokens)

	assert.Len(t, h.IceServers(), 2)
}
