package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// TokenCreator mints Twilio network traversal tokens
type TokenCreator interface {
	CreateToken(params *twilioApi.CreateTokenParams) (*twilioApi.ApiV2010Token, error)
}

type IceHandler struct {
	tokens TokenCreator
	stun   []string
	ttl    int
	log    *log.Logger
}

// NewIceHandler serves Twilio TURN credentials when accountSid and authToken
// are set, and the given public STUN servers otherwise or on Twilio failure
func NewIceHandler(accountSid, authToken string, stunURLs []string) *IceHandler {
	h := &IceHandler{
		stun: stunURLs,
		ttl:  86400,
		log:  log.Default().WithPrefix("ICE"),
	}
	if accountSid != "" && authToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		})
		h.tokens = client.Api
	}
	return h
}

// WithTokenCreator replaces the Twilio API client
func (h *IceHandler) WithTokenCreator(tc TokenCreator) *IceHandler {
	h.tokens = tc
	return h
}

// IceServers returns the servers a client should use for peer connections
func (h *IceHandler) IceServers() []models.ICEServer {
	if h.tokens != nil {
		servers, err := h.twilioServers()
		if err == nil && len(servers) > 0 {
			return servers
		}
		h.log.Warn("Twilio token request failed, falling back to STUN", "err", err)
	}
	return h.fallback()
}

func (h *IceHandler) twilioServers() ([]models.ICEServer, error) {
	ttl := h.ttl
	token, err := h.tokens.CreateToken(&twilioApi.CreateTokenParams{
		Ttl: &ttl,
	})
	if err != nil {
		return nil, err
	}
	if token.IceServers == nil {
		return nil, nil
	}

	servers := make([]models.ICEServer, 0, len(*token.IceServers))
	for _, server := range *token.IceServers {
		servers = append(servers, models.ICEServer{
			URLs:       []string{server.Url},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return servers, nil
}

func (h *IceHandler) fallback() []models.ICEServer {
	servers := make([]models.ICEServer, 0, len(h.stun))
	for _, u := range h.stun {
		servers = append(servers, models.ICEServer{URLs: []string{u}})
	}
	return servers
}

func (h *IceHandler) GetIceServers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.ICEServersResponse{
		ICEServers: h.IceServers(),
	})
}
