package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/proof"
	"github.com/dhays4sports/usdc-bot/record"
)

// recordSegments maps URL segments to record kinds.
var recordSegments = map[string]trustroute.RecordKind{
	"payments":  trustroute.KindPayment,
	"remit":     trustroute.KindRemittance,
	"authorize": trustroute.KindAuthorization,
}

// createRequest is a record draft. payeeInput and payeeAddress are accepted
// as aliases for the counterparty fields.
type createRequest struct {
	record.Draft
	PayeeInput   string `json:"payeeInput"`
	PayeeAddress string `json:"payeeAddress"`
}

func (c *createRequest) draft() record.Draft {
	d := c.Draft
	if strings.TrimSpace(d.CounterpartyInput) == "" {
		d.CounterpartyInput = c.PayeeInput
	}
	if strings.TrimSpace(d.CounterpartyAddress) == "" {
		d.CounterpartyAddress = c.PayeeAddress
	}
	return d
}

type recordResponse struct {
	OK     bool                     `json:"ok"`
	ID     string                   `json:"id"`
	Record *trustroute.IntentRecord `json:"record"`
}

func (s *Server) handleCreate(kind trustroute.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, kind.Surface(), s.cfg.Limits.Create, trustroute.ClientIP(r)) {
			return
		}

		var req createRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		rec, err := s.cfg.Records.Create(r.Context(), kind, req.draft())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trustroute.WriteJSON(w, http.StatusOK, recordResponse{OK: true, ID: rec.ID, Record: rec})
	}
}

func (s *Server) handleGet(kind trustroute.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.cfg.Records.Get(r.Context(), kind, chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trustroute.WriteJSON(w, http.StatusOK, rec)
	}
}

type patchRequest struct {
	Action     string          `json:"action"`
	Proof      json.RawMessage `json:"proof"`
	Settlement json.RawMessage `json:"settlement"`
}

// evidence prefers settlement over proof.
func (p *patchRequest) evidence() json.RawMessage {
	if present(p.Settlement) {
		return p.Settlement
	}
	return p.Proof
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// handlePatch links a proof, or revokes or settles the record when the body
// names an action.
func (s *Server) handlePatch(kind trustroute.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		id := chi.URLParam(r, "id")
		identity := trustroute.ClientIP(r)

		var (
			rec *trustroute.IntentRecord
			err error
		)
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "":
			if !s.allow(w, r, kind.Surface(), s.cfg.Limits.Proof, identity) {
				return
			}
			p := proof.NormalizeJSON(req.evidence())
			if p == nil {
				s.writeError(w, r, trustroute.Validation(trustroute.CodeInvalidProof, "Invalid settlement"))
				return
			}
			rec, err = s.cfg.Records.LinkProof(r.Context(), kind, id, p)
		case "revoke":
			if !s.allow(w, r, kind.Surface(), s.cfg.Limits.Revoke, identity) {
				return
			}
			rec, err = s.cfg.Records.Revoke(r.Context(), kind, id)
		case "settle":
			if !s.allow(w, r, kind.Surface(), s.cfg.Limits.Settle, identity) {
				return
			}
			rec, err = s.cfg.Records.MarkSettled(r.Context(), kind, id)
		default:
			s.writeError(w, r, trustroute.Validation(trustroute.CodeInvalidInput, "Unsupported action"))
			return
		}

		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trustroute.WriteJSON(w, http.StatusOK, recordResponse{OK: true, ID: rec.ID, Record: rec})
	}
}

type verifyRequest struct {
	TxHash string `json:"txHash"`
}

type verifyResponse struct {
	OK bool `json:"ok"`
	*record.AutoLinkResult
	Record *trustroute.IntentRecord `json:"record"`
}

func (s *Server) handleVerify(kind trustroute.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, kind.Surface(), s.cfg.Limits.Verify, trustroute.ClientIP(r)) {
			return
		}

		var req verifyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.cfg.Records.AutoLink(r.Context(), kind, chi.URLParam(r, "id"), req.TxHash)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trustroute.WriteJSON(w, http.StatusOK, verifyResponse{OK: true, AutoLinkResult: res, Record: res.Record})
	}
}
