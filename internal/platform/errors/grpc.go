package errors

import (
	"context"
	"errors"

	"github.com/louisbranch/fundraising.space/internal/platform/errors/i18n"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLocale is the default locale for error messages.
const DefaultLocale = "en-US"

// HandleError converts domain errors to gRPC status for client responses.
// It formats the user-facing message using the i18n catalog for the given locale,
// defaulting to en-US if the locale is empty.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isDomain(err) {
		return err
	}

	if locale == "" {
		locale = DefaultLocale
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		catalog := i18n.GetCatalog(locale)
		userMsg := catalog.Format(string(appErr.Code), appErr.Metadata)
		return appErr.toStatus(catalog.Locale(), userMsg)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}

	return status.Error(codes.Internal, "an unexpected error occurred")
}

// FromGRPCStatus rebuilds a domain error from a status produced by
// HandleError. Statuses without domain details are classified by their gRPC
// code only; the status message is never inspected.
func FromGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		return &Error{
			Code:     Code(info.GetReason()),
			Message:  st.Message(),
			Metadata: info.GetMetadata(),
			Cause:    err,
		}
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return Wrap(CodeNetworkTimeout, st.Message(), err)
	case codes.Unavailable:
		return Wrap(CodeLedgerUnavailable, st.Message(), err)
	case codes.Canceled:
		return context.Canceled
	default:
		return err
	}
}

// toStatus carries the code and metadata in ErrorInfo and the translated
// message in LocalizedMessage. The status message stays the internal one.
func (e *Error) toStatus(locale, userMessage string) error {
	grpcCode := e.Code.GRPCCode()
	st, err := status.New(grpcCode, e.Message).WithDetails(
		&errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   Domain,
			Metadata: e.Metadata,
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: userMessage,
		},
	)
	if err != nil {
		return status.Error(grpcCode, e.Message)
	}
	return st.Err()
}
