package httpapi

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/handoff"
	"github.com/dhays4sports/usdc-bot/router"
)

type previewRequest struct {
	Command string `json:"command"`
	Prompt  string `json:"prompt"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	command := req.Command
	if strings.TrimSpace(command) == "" {
		command = req.Prompt
	}

	preview, err := s.cfg.Router.Classify(r.Context(), command)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trustroute.WriteJSON(w, http.StatusOK, preview)
}

type commitRoute struct {
	Aud     string `json:"aud"`
	Surface string `json:"surface"`
	Path    string `json:"path"`
}

type commitRequest struct {
	Intent  string            `json:"intent"`
	Aud     string            `json:"aud"`
	Path    string            `json:"path"`
	Route   *commitRoute      `json:"route"`
	Fields  trustroute.Fields `json:"fields"`
	Context trustroute.Fields `json:"context"`
}

// audience prefers route.surface, then route.aud, then aud.
func (c *commitRequest) audience() string {
	if c.Route != nil {
		if v := strings.TrimSpace(c.Route.Surface); v != "" {
			return v
		}
		if v := strings.TrimSpace(c.Route.Aud); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Aud)
}

// path prefers route.path, then path, then router.RoutePath.
func (c *commitRequest) path() string {
	if c.Route != nil {
		if v := strings.TrimSpace(c.Route.Path); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(c.Path); v != "" {
		return v
	}
	return router.RoutePath
}

type commitResponse struct {
	OK       bool   `json:"ok"`
	Redirect string `json:"redirect"`
	TTLSec   int    `json:"ttlSec"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.issue(r.Context(), trustroute.SurfaceHub, req.Intent, req.audience(), req.path(), req.Fields, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trustroute.WriteJSON(w, http.StatusOK, res)
}

// issue mints a token for audience and builds the redirect into it.
func (s *Server) issue(ctx context.Context, issuer trustroute.Surface, intent, audience, path string, fields, extra trustroute.Fields) (*commitResponse, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, trustroute.Validation(trustroute.CodeInvalidInput, "Missing intent")
	}
	if audience == "" {
		return nil, trustroute.Validation(trustroute.CodeUnknownSurface, "Missing route.aud")
	}
	aud, err := trustroute.ParseSurface(audience)
	if err != nil || !aud.IsHandoffAudience() {
		return nil, trustroute.Validation(trustroute.CodeUnknownSurface, "Invalid route.aud")
	}
	if !isSafePath(path) {
		return nil, trustroute.Validation(trustroute.CodeInvalidInput, "route.path must be a safe relative path starting with /")
	}

	token, err := s.cfg.Handoff.Mint(ctx, handoff.MintRequest{
		Issuer:   issuer,
		Audience: aud,
		Intent:   intent,
		Fields:   fields,
		Context:  extra,
		TTL:      s.cfg.CommitTTL,
	})
	if err != nil {
		return nil, err
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return &commitResponse{
		OK:       true,
		Redirect: "https://" + aud.String() + path + sep + "h=" + url.QueryEscape(token),
		TTLSec:   int(handoff.ClampTTL(s.cfg.CommitTTL) / time.Second),
	}, nil
}

// isSafePath accepts relative paths like "/new" and rejects anything that
// could leave the audience's origin.
func isSafePath(p string) bool {
	return strings.HasPrefix(p, "/") &&
		!strings.HasPrefix(p, "//") &&
		!strings.Contains(p, "://") &&
		!strings.Contains(p, `\`)
}

type handoffRequest struct {
	Token string `json:"token"`
}

type handoffResponse struct {
	OK      bool               `json:"ok"`
	Issuer  trustroute.Surface `json:"iss"`
	Intent  string             `json:"intent"`
	Fields  trustroute.Fields  `json:"fields"`
	Context trustroute.Fields  `json:"context,omitempty"`
	Exp     int64              `json:"exp"`
}

func newHandoffResponse(h *trustroute.HandoffContext) handoffResponse {
	return handoffResponse{
		OK:      true,
		Issuer:  h.Issuer,
		Intent:  h.Intent,
		Fields:  h.Fields,
		Context: h.Context,
		Exp:     h.ExpiresAt.Unix(),
	}
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.cfg.Surface, s.cfg.Limits.Handoff, trustroute.ClientIP(r)) {
		return
	}

	var req handoffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		s.writeError(w, r, trustroute.Validation(trustroute.CodeInvalidInput, "Missing token"))
		return
	}

	h, err := s.cfg.Handoff.Consume(r.Context(), token, s.cfg.Surface)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trustroute.WriteJSON(w, http.StatusOK, newHandoffResponse(h))
}

// handleLanding serves GET /new?h=token once HandoffMiddleware has consumed
// the token.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	h, err := trustroute.RequireHandoff(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trustroute.WriteJSON(w, http.StatusOK, newHandoffResponse(h))
}

// SMS replies.
const (
	smsUsage        = "Send a command like:\nsend $5 usdc to device.eth"
	smsUnroutable   = "I couldn't route that.\nTry:\nsend $5 usdc to device.eth"
	smsRouteFailed  = "Routing failed. Try again in a moment."
	smsRateLimited  = "Too many messages. Try again in a minute."
	smsServerError  = "Server error. Try again."
	smsReadyMessage = "Ready.\nTap to continue:\n"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiML(w http.ResponseWriter, message string) {
	body, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// handleSMSInbound turns a texted command into a handoff link. Every
// outcome is answered with TwiML so the sender always gets a reply.
func (s *Server) handleSMSInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeTwiML(w, smsUsage)
		return
	}

	from := strings.TrimSpace(r.PostForm.Get("From"))
	text := strings.TrimSpace(r.PostForm.Get("Body"))

	if err := trustroute.CheckRateLimit(r.Context(), s.cfg.Limiter, trustroute.SurfaceSMS, &s.cfg.Limits.Inbound, from); err != nil {
		if trustroute.KindOf(err) == trustroute.KindRateLimit {
			writeTwiML(w, smsRateLimited)
			return
		}
		s.logger.Error("sms rate limit check failed", zap.Error(err))
		writeTwiML(w, smsServerError)
		return
	}

	if text == "" {
		writeTwiML(w, smsUsage)
		return
	}

	preview, err := s.cfg.Router.Classify(r.Context(), text)
	if err != nil || !preview.OK {
		writeTwiML(w, smsUnroutable)
		return
	}

	res, err := s.issue(r.Context(), trustroute.SurfaceSMS, string(preview.Intent), preview.Route.Surface.String(), preview.Route.Path, preview.Fields, trustroute.Fields{
		"source": "sms",
		"from":   from,
		"text":   text,
	})
	if err != nil {
		s.logger.Warn("sms handoff failed", zap.Error(err))
		writeTwiML(w, smsRouteFailed)
		return
	}

	writeTwiML(w, smsReadyMessage+res.Redirect)
}
