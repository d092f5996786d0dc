package exitcode

import (
	stderrors "errors"
	"os"
	"strings"

	pserrors "github.com/fernhill/plansync/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ValidationError indicates the plan failed validation
	ValidationError = 3

	// ProviderError indicates the remote tracker rejected or failed a call
	ProviderError = 4

	// AuthError indicates an authentication failure
	AuthError = 5

	// RateLimited indicates the run gave up behind a rate limit
	RateLimited = 6

	// PartialCreate indicates an item was created but left incomplete;
	// re-running resumes it via discovery
	PartialCreate = 7

	// Interrupted indicates the run was cancelled
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var psErr *pserrors.PlansyncError
	if stderrors.As(err, &psErr) {
		switch psErr.Code {
		case pserrors.ErrCodePlanInvalid, pserrors.ErrCodePlanDuplicateID,
			pserrors.ErrCodePlanBadParent, pserrors.ErrCodePlanUnresolved,
			pserrors.ErrCodeSyncUnresolvedRef:
			return ValidationError
		case pserrors.ErrCodeProviderAuth:
			return AuthError
		case pserrors.ErrCodeProviderRateLimit:
			return RateLimited
		case pserrors.ErrCodeSyncPartialCreate, pserrors.ErrCodeProviderPartialCreate:
			return PartialCreate
		case pserrors.ErrCodeProviderAPI, pserrors.ErrCodeProviderCapability,
			pserrors.ErrCodeSyncDiscover, pserrors.ErrCodeSyncDeletion:
			return ProviderError
		}
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	return GeneralError
}
