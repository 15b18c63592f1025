package middleware

import "context"

const identityKey contextKey = "identity"

type requestIdentity struct {
	customerID int64
	actorID    int64
}

func withIdentitySlot(ctx context.Context, slot *requestIdentity) context.Context {
	return context.WithValue(ctx, identityKey, slot)
}

func recordIdentity(ctx context.Context, customerID, actorID int64) {
	if slot, ok := ctx.Value(identityKey).(*requestIdentity); ok && slot != nil {
		slot.customerID = customerID
		slot.actorID = actorID
	}
}
