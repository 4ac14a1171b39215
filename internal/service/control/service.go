// Package control implements the control-plane operations: credential
// protocols, session lifecycle and revocation fan-out, worker registration
// and migration, host policy, and the configuration snapshot.
//
// Every operation runs its reads, checks, writes, and audit appends in one
// store transaction. Outbound worker RPC and email always happen after the
// transaction commits and never roll local state back.
package control

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/auth"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

type Service struct {
	DB     *pgxpool.Pool
	Worker *workerrpc.Client
	Mail   mailer.Sender
}

func New(db *pgxpool.Pool, worker *workerrpc.Client, mail mailer.Sender) *Service {
	return &Service{DB: db, Worker: worker, Mail: mail}
}

// appendAudit writes one audit entry inside the caller's transaction,
// filling attribution (API key, worker name, correlation ID) from the
// request identity when the entry does not carry its own.
func appendAudit(ctx context.Context, st *store.Store, e audit.Entry) error {
	id := auth.IdentityFromContext(ctx)
	if e.APIKeyID == "" {
		e.APIKeyID = id.Key.ID
	}
	if e.Worker == "" {
		e.Worker = id.Worker
	}
	if e.RequestID == "" {
		e.RequestID = id.RequestID
	}
	if e.IPAddress == "" {
		e.IPAddress = id.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = id.UserAgent
	}
	return st.AppendAudit(ctx, e)
}

// auditOutsideTx records fan-out outcomes, which happen after the request
// transaction has committed. Failures here are logged, never propagated:
// losing one audit row must not fail an already-committed operation.
func (s *Service) auditOutsideTx(ctx context.Context, e audit.Entry) {
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		return appendAudit(ctx, st, e)
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("event_type", string(e.EventType)).
			Msg("failed to append audit entry")
	}
}
