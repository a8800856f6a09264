// internal/membership/service.go
package membership

import "context"

// Service defines the member registration/authentication/tier surface.
type Service interface {
	RegisterMember(ctx context.Context, email, name, password string) (Member, error)
	Authenticate(ctx context.Context, email, password string) (Member, error)
	GetMember(ctx context.Context, id string) (Member, error)
	UpdateMemberTier(ctx context.Context, id, newTier string) (Member, error)
	SuspendMember(ctx context.Context, id, reason string) (Member, error)
}
