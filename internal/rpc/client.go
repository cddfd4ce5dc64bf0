package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls FleetService and Registry over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Invoke performs one JSON-coded unary call.
func (c *Client) Invoke(ctx context.Context, service, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+service+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) fleet(ctx context.Context, method string, in, out any) error {
	return c.Invoke(ctx, FleetServiceName, method, in, out)
}

func (c *Client) Session(ctx context.Context) (*SessionState, error) {
	out := &SessionState{}
	return out, c.fleet(ctx, "GetSession", &Empty{}, out)
}

func (c *Client) Select(ctx context.Context, robotID string) (*SessionState, error) {
	out := &SessionState{}
	return out, c.fleet(ctx, "SelectRobot", &RobotRequest{RobotID: robotID}, out)
}

func (c *Client) Deselect(ctx context.Context) (*SessionState, error) {
	out := &SessionState{}
	return out, c.fleet(ctx, "Deselect", &Empty{}, out)
}

func (c *Client) Acquire(ctx context.Context) (*ResultResponse, error) {
	out := &ResultResponse{}
	return out, c.fleet(ctx, "AcquireControl", &Empty{}, out)
}

func (c *Client) Release(ctx context.Context) (*ResultResponse, error) {
	out := &ResultResponse{}
	return out, c.fleet(ctx, "ReleaseControl", &Empty{}, out)
}

func (c *Client) Send(ctx context.Context, command string) (*ResultResponse, error) {
	out := &ResultResponse{}
	return out, c.fleet(ctx, "SendCommand", &CommandRequest{Command: command}, out)
}

func (c *Client) Robots(ctx context.Context) (*RobotList, error) {
	out := &RobotList{}
	return out, c.fleet(ctx, "ListRobots", &Empty{}, out)
}

func (c *Client) RenameRobot(ctx context.Context, robotID, name string) (*RobotResponse, error) {
	out := &RobotResponse{}
	return out, c.fleet(ctx, "UpdateRobot", &UpdateRobotRequest{RobotID: robotID, Name: &name}, out)
}

func (c *Client) DeleteRobot(ctx context.Context, robotID string) error {
	return c.fleet(ctx, "DeleteRobot", &RobotRequest{RobotID: robotID}, &Empty{})
}

func (c *Client) Notifications(ctx context.Context, sync, replace bool) (*NotificationList, error) {
	out := &NotificationList{}
	if sync {
		return out, c.fleet(ctx, "SyncNotifications", &SyncRequest{Replace: replace}, out)
	}
	return out, c.fleet(ctx, "ListNotifications", &Empty{}, out)
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.fleet(ctx, "MarkNotificationRead", &NotificationRequest{ID: id}, &Empty{})
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.fleet(ctx, "DeleteNotification", &NotificationRequest{ID: id}, &Empty{})
}

func (c *Client) ClearNotifications(ctx context.Context) (*ClearResponse, error) {
	out := &ClearResponse{}
	return out, c.fleet(ctx, "ClearNotifications", &Empty{}, out)
}

func (c *Client) AccessRequests(ctx context.Context) (*AccessRequestList, error) {
	out := &AccessRequestList{}
	return out, c.fleet(ctx, "ListAccessRequests", &Empty{}, out)
}

func (c *Client) ResolveAccess(ctx context.Context, requestID int64, approve bool) error {
	return c.fleet(ctx, "ResolveAccessRequest", &AccessDecision{RequestID: requestID, Approve: approve}, &Empty{})
}

func (c *Client) Settings(ctx context.Context) (*SettingsMessage, error) {
	out := &SettingsMessage{}
	return out, c.fleet(ctx, "GetNotificationSettings", &Empty{}, out)
}

func (c *Client) UpdateSettings(ctx context.Context, msg *SettingsMessage) (*SettingsMessage, error) {
	out := &SettingsMessage{}
	return out, c.fleet(ctx, "UpdateNotificationSettings", msg, out)
}

func (c *Client) Components(ctx context.Context) (*ComponentList, error) {
	out := &ComponentList{}
	return out, c.Invoke(ctx, RegistryServiceName, "ListComponents", &Empty{}, out)
}
