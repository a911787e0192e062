package pipeline

import "errors"

var (
	// ErrNoToken means the user has no stored access token.
	ErrNoToken = errors.New("no stored access token")

	// ErrNoEmail means email delivery was chosen but GitHub reports no
	// verified primary address.
	ErrNoEmail = errors.New("no verified primary email")

	// ErrNoMentionID means Discord delivery was chosen without a user to mention.
	ErrNoMentionID = errors.New("discord delivery without a mention id")

	ErrUnknownMethod = errors.New("unknown delivery method")

	// ErrRunInProgress means another run for the same user has not finished.
	ErrRunInProgress = errors.New("a run for this user is already in progress")

	// ErrTokenRevoked wraps every failure that deleted the user's token.
	ErrTokenRevoked = errors.New("access token revoked")

	// ErrModelOutputMalformed means no JSON array of findings could be
	// extracted from the model's reply.
	ErrModelOutputMalformed = errors.New("model output malformed")
)
