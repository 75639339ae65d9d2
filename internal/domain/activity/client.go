package activity

import "context"

// UserClient binds a Service to one user. It satisfies the activity log API
// consumed by the reconciliation engine when both run in one process.
type UserClient struct {
	svc    *Service
	userID string
}

// NewUserClient returns a client acting as userID.
func NewUserClient(svc *Service, userID string) *UserClient {
	return &UserClient{svc: svc, userID: userID}
}

func (c *UserClient) CreateActivityLog(ctx context.Context, req CreateRequest) (*Record, error) {
	return c.svc.Create(ctx, c.userID, req)
}

func (c *UserClient) UpdateActivityLog(ctx context.Context, id string, req UpdateRequest) (*Record, error) {
	return c.svc.Update(ctx, c.userID, id, req)
}

func (c *UserClient) GetActivityLogs(ctx context.Context, opts ListOptions) (Page, error) {
	return c.svc.List(ctx, c.userID, opts)
}

func (c *UserClient) CleanupActivityLogs(ctx context.Context, olderThanDays int) (int64, error) {
	return c.svc.Cleanup(ctx, c.userID, olderThanDays)
}
