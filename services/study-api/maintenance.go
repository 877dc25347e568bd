package studyapi

import (
	"context"
	"fmt"
)

// RevocationPurger drops revocations of tokens that have expired anyway.
type RevocationPurger interface {
	PurgeExpiredRevocations(ctx context.Context) (int64, error)
}

// SessionPurgeJob is the scheduled cleanup of the session revocation list.
type SessionPurgeJob struct {
	store RevocationPurger
}

func NewSessionPurgeJob(store RevocationPurger) *SessionPurgeJob {
	return &SessionPurgeJob{store: store}
}

func (j *SessionPurgeJob) Name() string {
	return "purge-sessions"
}

func (j *SessionPurgeJob) Run(ctx context.Context) (string, error) {
	n, err := j.store.PurgeExpiredRevocations(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("purged %d expired session revocations", n), nil
}
