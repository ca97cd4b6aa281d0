package provision

const (
	// InitialCycleGrant is the cycle balance granted to every new account.
	InitialCycleGrant int64 = 800

	// DefaultMaxAllocationAttempts bounds the identifier allocation loop.
	DefaultMaxAllocationAttempts = 8

	identifierPrefix     = "diam"
	identifierAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	identifierSegments   = 3
	identifierSegmentLen = 4

	accountPathPrefix     = "accounts/"
	transactionPathPrefix = "transactions/"

	operationProvision = "provision"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
