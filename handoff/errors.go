package handoff

import (
	trustroute "github.com/dhays4sports/usdc-bot"
)

// Error codes for token rejections.
const (
	CodeMalformed          = "HANDOFF_MALFORMED"
	CodeBadSignature       = "HANDOFF_BAD_SIGNATURE"
	CodeBadPayload         = "HANDOFF_BAD_PAYLOAD"
	CodeUnsupportedVersion = "HANDOFF_UNSUPPORTED_VERSION"
	CodeWrongAudience      = "HANDOFF_WRONG_AUDIENCE"
	CodeExpired            = "HANDOFF_EXPIRED"
	CodeAlreadyUsed        = "HANDOFF_ALREADY_USED"
	CodeInvalidAudience    = "HANDOFF_INVALID_AUDIENCE"
	CodeInvalidIssuer      = "HANDOFF_INVALID_ISSUER"
)

// Errors returned by Verify and Consume. All are KindAuthentication: the
// token is dead and the user must go back to the hub for a fresh one.
var (
	ErrMalformed          = trustroute.NewError(trustroute.KindAuthentication, CodeMalformed, "Invalid token format", nil)
	ErrBadSignature       = trustroute.NewError(trustroute.KindAuthentication, CodeBadSignature, "Bad signature", nil)
	ErrBadPayload         = trustroute.NewError(trustroute.KindAuthentication, CodeBadPayload, "Bad payload", nil)
	ErrUnsupportedVersion = trustroute.NewError(trustroute.KindAuthentication, CodeUnsupportedVersion, "Unsupported token version", nil)
	ErrWrongAudience      = trustroute.NewError(trustroute.KindAuthentication, CodeWrongAudience, "Wrong audience", nil)
	ErrExpired            = trustroute.NewError(trustroute.KindAuthentication, CodeExpired, "Token expired", nil)
	ErrAlreadyUsed        = trustroute.NewError(trustroute.KindAuthentication, CodeAlreadyUsed, "Token already used", nil)
)

// Errors returned by Mint.
var (
	ErrInvalidAudience = trustroute.Validation(CodeInvalidAudience, "Invalid handoff audience")
	ErrInvalidIssuer   = trustroute.Validation(CodeInvalidIssuer, "Invalid handoff issuer")
)
