package authsession

// Opcodes, grounded on the PacketIDs referenced throughout
// original_source/src/NECROAuth/Server/Auth/AuthSession.cpp and on
// spec.md §4.6's worked wire example.
const (
	OpLoginGatherInfo uint8 = 1
	OpLoginAttempt    uint8 = 2
)

// AuthResult is the result byte of a LOGIN_GATHER_INFO server reply.
type AuthResult uint8

const (
	AuthSuccess                  AuthResult = 0
	AuthFailedUnknownAccount     AuthResult = 1
	AuthFailedWrongClientVersion AuthResult = 2
)

// LoginProofResult is the result byte of a LOGIN_ATTEMPT server reply.
type LoginProofResult uint8

const (
	LoginProofSuccess LoginProofResult = 0
	LoginProofFailed  LoginProofResult = 1
)

// MaxUsernameLength and MaxPasswordLength are the enforced field caps,
// pinned to 16 per SPEC_FULL.md §6 and original_source's
// Auth::MAX_USERNAME_LENGTH / Auth::MAX_PASSWORD_LENGTH.
const (
	MaxUsernameLength = 16
	MaxPasswordLength = 16
)

// sessionKeySize is the length in bytes of both the AES-128 session key
// and the one-time greetcode.
const sessionKeySize = 16
