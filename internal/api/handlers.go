package api

import (
	"encoding/json"
	"net/http"

	"github.com/doorbridge/doorbridge/internal/errs"
	"github.com/doorbridge/doorbridge/internal/store"
)

// okBody is the literal {ok:true} shape §4.7 specifies for every
// success response that carries no further data.
type okBody struct {
	Ok bool `json:"ok"`
}

// pushRegisterRequest is the body of POST /push/register.
type pushRegisterRequest struct {
	UserID    string `json:"userId"`
	PushToken string `json:"pushToken"`
	Platform  string `json:"platform"`
	DeviceID  string `json:"deviceId"`
}

func (s *Server) handlePushRegister(w http.ResponseWriter, r *http.Request) {
	var req pushRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, &errs.BadRequest{Msg: "invalid json body"})
		return
	}
	if req.UserID == "" || req.PushToken == "" || req.Platform == "" {
		writeErr(w, r, &errs.BadRequest{Msg: "userId, pushToken and platform are required"})
		return
	}

	err := s.tokens.SavePushToken(r.Context(), store.PushToken{
		UserID:   req.UserID,
		Token:    req.PushToken,
		Platform: req.Platform,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{Ok: true})
}

// credentialsResponse is the literal SIP-credentials shape returned by
// GET /calls/credentials. POST /calls/outgoing-credentials returns
// outgoingCredentialsResponse instead.
type credentialsResponse struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Domain       string `json:"domain"`
	CallerNumber string `json:"callerNumber,omitempty"`
	CallerName   string `json:"callerName,omitempty"`
}

func (s *Server) handleCallCredentials(w http.ResponseWriter, r *http.Request) {
	callToken := r.URL.Query().Get("callToken")
	if callToken == "" {
		writeErr(w, r, &errs.BadRequest{Msg: "callToken query parameter is required"})
		return
	}

	creds, err := s.orch.GetCredentials(r.Context(), callToken)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialsResponse{
		Username:     creds.Username,
		Password:     creds.Password,
		Domain:       creds.Domain,
		CallerNumber: creds.CallerNumber,
		CallerName:   creds.CallerName,
	})
}

type callTokenRequest struct {
	CallToken string `json:"callToken"`
}

// handleCallEnd implements both POST /calls/end and its /calls/reject
// alias (§4.7) — the orchestrator makes no distinction between a client
// ending an accepted call and rejecting one still ringing.
func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	var req callTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, &errs.BadRequest{Msg: "invalid json body"})
		return
	}
	if req.CallToken == "" {
		writeErr(w, r, &errs.BadRequest{Msg: "callToken is required"})
		return
	}

	if err := s.orch.EndCall(r.Context(), req.CallToken); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{Ok: true})
}

// outgoingCredentialsResponse is the literal
// {outgoingToken, ...sipCredentials} shape §4.7 specifies.
type outgoingCredentialsResponse struct {
	OutgoingToken string `json:"outgoingToken"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Domain        string `json:"domain"`
}

func (s *Server) handleOutgoingCredentials(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.MintOutgoingCredentials(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outgoingCredentialsResponse{
		OutgoingToken: result.OutgoingToken,
		Username:      result.Credentials.Username,
		Password:      result.Credentials.Password,
		Domain:        result.Credentials.Domain,
	})
}

type outgoingTokenRequest struct {
	OutgoingToken string `json:"outgoingToken"`
}

func (s *Server) handleOutgoingCleanup(w http.ResponseWriter, r *http.Request) {
	var req outgoingTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, &errs.BadRequest{Msg: "invalid json body"})
		return
	}
	if req.OutgoingToken == "" {
		writeErr(w, r, &errs.BadRequest{Msg: "outgoingToken is required"})
		return
	}

	if err := s.orch.CleanupOutgoing(r.Context(), req.OutgoingToken); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{Ok: true})
}

// healthConfig echoes the subset of process config §4.7 pins for the
// health response.
type healthConfig struct {
	BaseURL string `json:"baseUrl"`
}

type healthResponse struct {
	Ok      bool         `json:"ok"`
	Service string       `json:"service"`
	Config  healthConfig `json:"config"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Ok:      true,
		Service: "doorbridge",
		Config:  healthConfig{BaseURL: "https://" + s.cfg.ServerDomain},
	})
}
