package constants

// Server defaults
const (
	DefaultServerPort            = 5001
	DefaultClientURL             = "http://localhost:5173"
	DefaultStaticDir             = "../frontend/dist"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxRequestBodyBytes   = 10 * BytesPerMegabyte
	DefaultRateLimitPerMinute    = 120
	DefaultRateLimitBurst        = 20
	ServerErrorChannelSize       = 1
)

// Chat provider defaults
const (
	DefaultStreamBaseURL      = "https://chat.stream-io-api.com"
	DefaultChannelType        = "messaging"
	DefaultTokenTTLMinutes    = 60
	DefaultStreamTimeoutSec   = 10
	DefaultConnectTimeoutSec  = 15
	DefaultWebsocketReadLimit = 1 << 20
)

// Session cookie defaults
const (
	DefaultSessionCookieName = "jwt"
	MinSessionSecretLength   = 32
)

// Client defaults
const (
	DefaultDevAPIBaseURL    = "http://localhost:5001/api"
	ProductionAPIBasePath   = "/api"
	DefaultProfileStorePath = "chatcli-profile.db"
	DefaultCallPathPrefix   = "/call/"
)

// Local overlay storage
const (
	HiddenMessagesKeyPrefix   = "hidden_messages_"
	DefaultStoreRetryAttempts = 3
	DefaultBackoffInitialMs   = 200
	DefaultBackoffMaxMs       = 2000
	DefaultSQLiteBusyTimeout  = 5000
)

// Profile store encryption
const (
	ProfileSecretEnv       = "CHATCLI_PROFILE_SECRET"
	MinProfileSecretLength = 16
	ProfileEncryptionSalt  = "chatbridge-profile-v1"
	ProfileLookupSalt      = "chatbridge-profile-lookup-v1"
	ProfileKeyIterations   = 100000
	ProfileKeySize         = 32
	ProfileNonceSize       = 12
)

// Validation limits
const (
	MaxUserIDLength    = 128
	MaxChannelIDLength = 64
	MaxMessageIDLength = 255
	BytesPerMegabyte   = 1024 * 1024
)

// Privacy settings
const (
	DefaultIDMaskLength    = 4
	DefaultTokenMaskLength = 6
)
