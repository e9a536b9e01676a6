package response

// Result codes returned in the errcode field of platform responses. The table
// is not exhaustive: codes missing from it are classified as unknown.
const (
	CodeSystemBusy              = -1
	CodeOK                      = 0
	CodeInvalidCredential       = 40001
	CodeInvalidGrantType        = 40002
	CodeInvalidOpenID           = 40003
	CodeInvalidAppID            = 40013
	CodeInvalidAccessToken      = 40014
	CodeInvalidOAuthCode        = 40029
	CodeInvalidRefreshToken     = 40030
	CodeInvalidAppSecret        = 40125
	CodeIPNotWhitelisted        = 40164
	CodeMissingAccessToken      = 41001
	CodeMissingAppID            = 41002
	CodeMissingSecret           = 41004
	CodeAccessTokenExpired      = 42001
	CodeRefreshTokenExpired     = 42002
	CodeOAuthCodeExpired        = 42003
	CodeMissingVerifyTicket     = 61004
	CodeInvalidComponentTicket  = 61006
	CodeAuthorizerNotAuthorized = 61003
	CodeInvalidAuthorizerToken  = 61023
	CodeAPIFrequencyLimit       = 45009
	CodeAPIUnauthorized         = 48001
	CodeUserRefused             = 43101
)

var codeNames = map[int]string{
	CodeSystemBusy:              "system busy",
	CodeOK:                      "ok",
	CodeInvalidCredential:       "invalid credential",
	CodeInvalidGrantType:        "invalid grant_type",
	CodeInvalidOpenID:           "invalid openid",
	CodeInvalidAppID:            "invalid appid",
	CodeInvalidAccessToken:      "invalid access_token",
	CodeInvalidOAuthCode:        "invalid oauth code",
	CodeInvalidRefreshToken:     "invalid refresh_token",
	CodeInvalidAppSecret:        "invalid appsecret",
	CodeIPNotWhitelisted:        "caller ip not whitelisted",
	CodeMissingAccessToken:      "access_token missing",
	CodeMissingAppID:            "appid missing",
	CodeMissingSecret:           "secret missing",
	CodeAccessTokenExpired:      "access_token expired",
	CodeRefreshTokenExpired:     "refresh_token expired",
	CodeOAuthCodeExpired:        "oauth code expired",
	CodeMissingVerifyTicket:     "component verify ticket missing",
	CodeInvalidComponentTicket:  "invalid component verify ticket",
	CodeAuthorizerNotAuthorized: "account has not authorized the component",
	CodeInvalidAuthorizerToken:  "invalid authorizer refresh_token",
	CodeAPIFrequencyLimit:       "api call frequency limit reached",
	CodeAPIUnauthorized:         "api not authorized for this account",
	CodeUserRefused:             "user refused",
}

// credentialCodes signal that the credential used for the call is invalid and
// a refresh followed by a retry may succeed.
var credentialCodes = map[int]struct{}{
	CodeInvalidCredential:  {},
	CodeInvalidAccessToken: {},
	CodeMissingAccessToken: {},
	CodeAccessTokenExpired: {},
}

// Known reports whether the code is in the result code table.
func Known(code int) bool {
	_, ok := codeNames[code]
	return ok
}

// Describe returns the table description for a code, or "unknown".
func Describe(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "unknown"
}

// IsCredentialInvalid reports whether the code means the access token used was
// rejected.
func IsCredentialInvalid(code int) bool {
	_, ok := credentialCodes[code]
	return ok
}
