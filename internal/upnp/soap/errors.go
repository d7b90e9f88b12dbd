package soap

import "github.com/coissac/pmomusic/internal/apperrors"

// UPnP error codes named by spec.md §7.
const (
	ErrorInvalidAction = 401
	ErrorInvalidArgs   = 402
	ErrorActionFailed  = 501
)

// FaultFromError maps an action invocation failure to a UPnP error code
// and description. Service-specific codes (e.g. AVTransport's 701
// "Transition not available") are attached by individual Action.Invoke
// implementations via *apperrors.AppError.Details["upnp_error_code"];
// FaultFromError honors that override when present.
func FaultFromError(err error) (code int, description string) {
	appErr := apperrors.EnsureAppError(err)
	if appErr.Details != nil {
		if v, ok := appErr.Details["upnp_error_code"]; ok {
			if n, ok := v.(int); ok {
				return n, appErr.Message
			}
		}
	}
	switch appErr.Code {
	case apperrors.ErrorCodeActionInvocation:
		return ErrorActionFailed, appErr.Message
	case apperrors.ErrorCodeTypeCast:
		return ErrorInvalidArgs, appErr.Message
	default:
		return ErrorActionFailed, appErr.Message
	}
}
