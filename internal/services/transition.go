package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"dukaan/internal/apperr"

	"github.com/go-playground/validator/v10"
)

// TransitionKind names an operation on the order state machine.
type TransitionKind string

const (
	TransitionAccept       TransitionKind = "ACCEPT"
	TransitionCancel       TransitionKind = "CANCEL"
	TransitionClaim        TransitionKind = "CLAIM"
	TransitionVerifyPickup TransitionKind = "VERIFY_PICKUP"
	TransitionDeliver      TransitionKind = "DELIVER"
)

// TransitionRequest is one of the typed payloads below.
type TransitionRequest interface {
	Kind() TransitionKind
}

type AcceptRequest struct{}

type CancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

type ClaimRequest struct{}

type VerifyPickupRequest struct {
	OTP string `json:"otp" validate:"required,len=6,numeric"`
}

type DeliverRequest struct{}

func (AcceptRequest) Kind() TransitionKind       { return TransitionAccept }
func (CancelRequest) Kind() TransitionKind       { return TransitionCancel }
func (ClaimRequest) Kind() TransitionKind        { return TransitionClaim }
func (VerifyPickupRequest) Kind() TransitionKind { return TransitionVerifyPickup }
func (DeliverRequest) Kind() TransitionKind      { return TransitionDeliver }

// DecodeTransition turns a {"type": "...", ...} body into a validated request.
// The legacy status names ACCEPTED, PROCESSING, CANCELLED and DELIVERED are
// accepted as aliases. OUT_FOR_DELIVERY is rejected: depending on the pickup
// flow it stands for CLAIM or VERIFY_PICKUP.
func DecodeTransition(body []byte, validate *validator.Validate) (TransitionRequest, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}

	var req TransitionRequest
	switch TransitionKind(strings.ToUpper(strings.TrimSpace(envelope.Type))) {
	case TransitionAccept, "ACCEPTED", "PROCESSING":
		req = &AcceptRequest{}
	case TransitionCancel, "CANCELLED":
		req = &CancelRequest{}
	case TransitionClaim:
		req = &ClaimRequest{}
	case TransitionVerifyPickup:
		req = &VerifyPickupRequest{}
	case "OUT_FOR_DELIVERY":
		return nil, apperr.New(apperr.KindValidation, "transition type OUT_FOR_DELIVERY is ambiguous, use CLAIM or VERIFY_PICKUP")
	case TransitionDeliver, "DELIVERED":
		req = &DeliverRequest{}
	case "":
		return nil, apperr.New(apperr.KindValidation, "transition type is required")
	default:
		return nil, apperr.New(apperr.KindValidation, "unknown transition type %q", envelope.Type)
	}

	if err := json.Unmarshal(body, req); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid %s payload", req.Kind())
	}
	if err := validateStruct(validate, req); err != nil {
		return nil, err
	}
	return deref(req), nil
}

// deref returns the value form so callers can type-switch on plain structs.
func deref(req TransitionRequest) TransitionRequest {
	switch r := req.(type) {
	case *AcceptRequest:
		return *r
	case *CancelRequest:
		return *r
	case *ClaimRequest:
		return *r
	case *VerifyPickupRequest:
		return *r
	case *DeliverRequest:
		return *r
	}
	return req
}

// validateStruct runs validator tags and reports failures as KindValidation.
func validateStruct(validate *validator.Validate, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Wrap(apperr.KindValidation, err, "validation failed")
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", e.Field(), e.Tag()))
	}
	return apperr.New(apperr.KindValidation, "validation failed: %s", strings.Join(msgs, "; "))
}
