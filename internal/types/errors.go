package types

// API error codes.
const (
	CodeBadRequest      = "REQUEST_400"
	CodeUnknownVariable = "VARIABLE_404"
	CodeInvalidValue    = "VARIABLE_400"
	CodeUnresolvable    = "VARIABLE_422"
	CodeNotLoaded       = "A2L_503"
	CodeReloadFailed    = "A2L_500"
	CodeNotConnected    = "ECU_503"
	CodeTransport       = "ECU_502"
	CodeDataset         = "DATASET"
	CodeAuditDisabled   = "AUDIT_404"
	CodeStorage         = "AUDIT_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
