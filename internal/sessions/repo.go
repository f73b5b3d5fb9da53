package sessions

import "context"

// RemoteQuery is the subset of search criteria the remote store evaluates
// natively: equality/in filters, single-field ordering and a limit. Anything
// richer is re-applied in memory by the service.
type RemoteQuery struct {
	UserID         string
	Statuses       []Status
	CanResume      *bool
	OrderBy        OrderField
	OrderAscending bool
	Limit          int
}

// RemoteRepo is the contract this engine needs from the durable, queryable
// remote store. Documents live in a per-user collection keyed by session ID;
// every call is an async boundary and must honor the caller's context.
type RemoteRepo interface {
	Get(ctx context.Context, userID, sessionID string) (Session, error)
	// Put upserts the document and stamps LastSyncAt server-side.
	Put(ctx context.Context, s Session) error
	// Delete reports whether a document existed.
	Delete(ctx context.Context, userID, sessionID string) (bool, error)
	Query(ctx context.Context, q RemoteQuery) ([]Session, error)
}
