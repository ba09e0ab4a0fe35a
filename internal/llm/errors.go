package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/googleapis/gax-go/v2/apierror"
	openai "github.com/sashabaranov/go-openai"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"google.golang.org/grpc/codes"
)

var (
	// ErrProviderNotConfigured is returned when no provider credentials are set.
	ErrProviderNotConfigured = fmt.Errorf("llm: provider not configured: %w", apperr.ErrProviderConfig)
	// ErrProviderAuth is returned when the provider rejects credentials.
	ErrProviderAuth = fmt.Errorf("llm: provider rejected credentials: %w", apperr.ErrProviderConfig)
	// ErrModelUnavailable is returned for unknown or unsupported model ids.
	ErrModelUnavailable = fmt.Errorf("llm: model unavailable: %w", apperr.ErrProviderModel)
	// ErrEmptyResponse is returned when the provider produced no usable text.
	ErrEmptyResponse = fmt.Errorf("llm: empty response: %w", apperr.ErrProviderEmpty)
	// ErrProviderUnavailable covers transient provider failures.
	ErrProviderUnavailable = fmt.Errorf("llm: provider request failed: %w", apperr.ErrProviderUnavailable)
)

var bedrockAuthCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"ExpiredTokenException":       true,
	"InvalidSignatureException":   true,
}

// Classify maps a provider error to one of the package kinds, keeping the
// original error in the chain for logs. Context errors pass through unchanged
// so callers can tell a timeout from a provider failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if classified(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", kindOf(err), err)
}

func classified(err error) bool {
	for _, kind := range []error{ErrProviderNotConfigured, ErrProviderAuth, ErrModelUnavailable, ErrEmptyResponse, ErrProviderUnavailable} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func kindOf(err error) error {
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return kindForStatus(oaErr.HTTPStatusCode, fmt.Sprint(oaErr.Code))
	}
	var oaReqErr *openai.RequestError
	if errors.As(err, &oaReqErr) {
		return kindForStatus(oaReqErr.HTTPStatusCode, "")
	}

	var notFound *brtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return ErrModelUnavailable
	}
	var gErr *apierror.APIError
	if errors.As(err, &gErr) {
		if gErr.Reason() == "API_KEY_INVALID" {
			return ErrProviderAuth
		}
		if st := gErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Unauthenticated, codes.PermissionDenied:
				return ErrProviderAuth
			case codes.NotFound:
				return ErrModelUnavailable
			}
		}
		return kindForStatus(gErr.HTTPCode(), "")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case bedrockAuthCodes[code]:
			return ErrProviderAuth
		case code == "ResourceNotFoundException":
			return ErrModelUnavailable
		case code == "ValidationException" && strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "model"):
			return ErrModelUnavailable
		}
	}
	return ErrProviderUnavailable
}

func kindForStatus(status int, code string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProviderAuth
	case status == http.StatusNotFound || code == "model_not_found":
		return ErrModelUnavailable
	}
	return ErrProviderUnavailable
}
