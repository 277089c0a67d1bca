package errs

// Error codes. The 15xx-18xx ranges mirror the failure taxonomy: auth,
// upstream, research and persistence.
const (
	ServerInternalError = 500
	ArgsError           = 1001
	RecordNotFoundError = 1004

	AuthFailedError = 1501

	UpstreamError          = 1600
	RateLimitedError       = 1601
	UpstreamConfigError    = 1602
	UpstreamMalformedError = 1603

	ResearchFailedError = 1701
	PersistenceError    = 1801
)

var (
	ErrServerInternal = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs           = NewCodeError(ArgsError, "invalid request")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "record not found")

	// ErrAuthFailed covers bad credentials and bad, expired or revoked tokens alike.
	ErrAuthFailed = NewCodeError(AuthFailedError, "authentication failed")

	ErrUpstream          = NewCodeError(UpstreamError, "upstream provider error")
	ErrRateLimited       = NewCodeError(RateLimitedError, "upstream provider rate limited")
	ErrUpstreamConfig    = NewCodeError(UpstreamConfigError, "upstream provider misconfigured")
	ErrUpstreamMalformed = NewCodeError(UpstreamMalformedError, "upstream provider returned an unparsable response")

	ErrResearchFailed = NewCodeError(ResearchFailedError, "research failed")
	ErrPersistence    = NewCodeError(PersistenceError, "persistence failed")
)
