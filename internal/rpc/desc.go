package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	FleetServiceName    = "robofleet.v1.FleetService"
	RegistryServiceName = "robofleet.v1.Registry"
)

// FleetServer is the session surface thin UI shells call.
type FleetServer interface {
	GetSession(context.Context, *Empty) (*SessionState, error)
	SelectRobot(context.Context, *RobotRequest) (*SessionState, error)
	Deselect(context.Context, *Empty) (*SessionState, error)
	AcquireControl(context.Context, *Empty) (*ResultResponse, error)
	ReleaseControl(context.Context, *Empty) (*ResultResponse, error)
	SendCommand(context.Context, *CommandRequest) (*ResultResponse, error)
	ListRobots(context.Context, *Empty) (*RobotList, error)
	UpdateRobot(context.Context, *UpdateRobotRequest) (*RobotResponse, error)
	DeleteRobot(context.Context, *RobotRequest) (*Empty, error)
	ListNotifications(context.Context, *Empty) (*NotificationList, error)
	SyncNotifications(context.Context, *SyncRequest) (*NotificationList, error)
	MarkNotificationRead(context.Context, *NotificationRequest) (*Empty, error)
	DeleteNotification(context.Context, *NotificationRequest) (*Empty, error)
	ClearNotifications(context.Context, *Empty) (*ClearResponse, error)
	ListAccessRequests(context.Context, *Empty) (*AccessRequestList, error)
	ResolveAccessRequest(context.Context, *AccessDecision) (*Empty, error)
	GetNotificationSettings(context.Context, *Empty) (*SettingsMessage, error)
	UpdateNotificationSettings(context.Context, *SettingsMessage) (*SettingsMessage, error)
}

// RegistryServer lists daemon components and their health.
type RegistryServer interface {
	ListComponents(context.Context, *Empty) (*ComponentList, error)
	DescribeComponent(context.Context, *ComponentRequest) (*ComponentList, error)
}

// unary builds a method descriptor for a JSON-coded handler.
func unary[S any, Req any, Resp any](service, name string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(S)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fleetMethod[Req any, Resp any](name string, call func(FleetServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return unary(FleetServiceName, name, call)
}

var FleetServiceDesc = grpc.ServiceDesc{
	ServiceName: FleetServiceName,
	HandlerType: (*FleetServer)(nil),
	Methods: []grpc.MethodDesc{
		fleetMethod("GetSession", FleetServer.GetSession),
		fleetMethod("SelectRobot", FleetServer.SelectRobot),
		fleetMethod("Deselect", FleetServer.Deselect),
		fleetMethod("AcquireControl", FleetServer.AcquireControl),
		fleetMethod("ReleaseControl", FleetServer.ReleaseControl),
		fleetMethod("SendCommand", FleetServer.SendCommand),
		fleetMethod("ListRobots", FleetServer.ListRobots),
		fleetMethod("UpdateRobot", FleetServer.UpdateRobot),
		fleetMethod("DeleteRobot", FleetServer.DeleteRobot),
		fleetMethod("ListNotifications", FleetServer.ListNotifications),
		fleetMethod("SyncNotifications", FleetServer.SyncNotifications),
		fleetMethod("MarkNotificationRead", FleetServer.MarkNotificationRead),
		fleetMethod("DeleteNotification", FleetServer.DeleteNotification),
		fleetMethod("ClearNotifications", FleetServer.ClearNotifications),
		fleetMethod("ListAccessRequests", FleetServer.ListAccessRequests),
		fleetMethod("ResolveAccessRequest", FleetServer.ResolveAccessRequest),
		fleetMethod("GetNotificationSettings", FleetServer.GetNotificationSettings),
		fleetMethod("UpdateNotificationSettings", FleetServer.UpdateNotificationSettings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "robofleet/v1/fleet.json",
}

var RegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: RegistryServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(RegistryServiceName, "ListComponents", RegistryServer.ListComponents),
		unary(RegistryServiceName, "DescribeComponent", RegistryServer.DescribeComponent),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "robofleet/v1/registry.json",
}

func RegisterFleetServer(s grpc.ServiceRegistrar, srv FleetServer) {
	s.RegisterService(&FleetServiceDesc, srv)
}

func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&RegistryServiceDesc, srv)
}
