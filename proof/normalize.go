// Package proof turns user-supplied settlement evidence into a
// trustroute.SettlementProof. It is the only place proofs are built from
// request input.
package proof

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	trustroute "github.com/dhays4sports/usdc-bot"
)

var txHashPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// explorerDomain serves /tx/{hash} URLs on itself and its subdomains
// (www, sepolia).
const explorerDomain = "basescan.org"

// receiptHosts lists hosts serving usdc.bot receipts under /e/{id}.
var receiptHosts = map[string]bool{
	"usdc.bot":     true,
	"www.usdc.bot": true,
}

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// Normalize accepts a bare tx hash, an explorer tx URL, a usdc.bot receipt
// URL, or a typed {type, value} object (map, SettlementProof, raw JSON).
// It returns nil for anything else.
func Normalize(raw any) *trustroute.SettlementProof {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return normalizeString(v)
	case trustroute.SettlementProof:
		return normalizeTyped(string(v.Type), v.Value)
	case *trustroute.SettlementProof:
		if v == nil {
			return nil
		}
		return normalizeTyped(string(v.Type), v.Value)
	case map[string]any:
		typ, _ := v["type"].(string)
		value, _ := v["value"].(string)
		return normalizeTyped(typ, value)
	case map[string]string:
		return normalizeTyped(v["type"], v["value"])
	case json.RawMessage:
		return NormalizeJSON(v)
	}
	return nil
}

// NormalizeJSON decodes a JSON string or object and normalizes it.
func NormalizeJSON(data []byte) *trustroute.SettlementProof {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	switch decoded.(type) {
	case string, map[string]any:
		return Normalize(decoded)
	}
	return nil
}

// NormalizeTxHash extracts a transaction hash from a bare hash or an
// explorer tx URL.
func NormalizeTxHash(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if IsTxHash(s) {
		return s, true
	}
	if hash, ok := explorerTxHash(s); ok {
		return hash, true
	}
	return "", false
}

func normalizeString(s string) *trustroute.SettlementProof {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if isReceiptURL(s) {
		return &trustroute.SettlementProof{Type: trustroute.ProofTypeReceipt, Value: s}
	}
	if hash, ok := NormalizeTxHash(s); ok {
		return &trustroute.SettlementProof{Type: trustroute.ProofTypeTxHash, Value: hash}
	}
	return nil
}

func normalizeTyped(typ, value string) *trustroute.SettlementProof {
	value = strings.TrimSpace(value)
	switch trustroute.ProofType(strings.TrimSpace(typ)) {
	case trustroute.ProofTypeReceipt:
		if !isReceiptURL(value) {
			return nil
		}
		return &trustroute.SettlementProof{Type: trustroute.ProofTypeReceipt, Value: value}
	case trustroute.ProofTypeTxHash, trustroute.ProofTypeLegacyBasescan:
		if !IsTxHash(value) {
			return nil
		}
		return &trustroute.SettlementProof{Type: trustroute.ProofTypeTxHash, Value: value}
	}
	return nil
}

func isReceiptURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || !webScheme(u.Scheme) || !receiptHosts[strings.ToLower(u.Hostname())] {
		return false
	}
	id, ok := strings.CutPrefix(u.Path, "/e/")
	return ok && id != "" && !strings.HasPrefix(id, "/")
}

func webScheme(scheme string) bool {
	return scheme == "https" || scheme == "http"
}

func isExplorerHost(host string) bool {
	host = strings.ToLower(host)
	return host == explorerDomain || strings.HasSuffix(host, "."+explorerDomain)
}

// explorerTxHash extracts {hash} from https://basescan.org/tx/{hash}. The
// scheme may be omitted.
func explorerTxHash(s string) (string, bool) {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || !webScheme(u.Scheme) || !isExplorerHost(u.Hostname()) {
		return "", false
	}
	_, rest, ok := strings.Cut(u.Path, "/tx/")
	if !ok {
		return "", false
	}
	hash, _, _ := strings.Cut(rest, "/")
	if !IsTxHash(hash) {
		return "", false
	}
	return hash, true
}
