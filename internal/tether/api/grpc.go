// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"grimm.is/tetherd/internal/tether"
)

// TetherServer is the gRPC surface over the orchestrator. It is hand-
// written rather than protoc-generated: messages ride the jsonCodec
// registered in codec.go instead of the protobuf wire format.
type TetherServer interface {
	StartTethering(context.Context, *StartTetheringRequest) (*StartTetheringResponse, error)
	StopTethering(context.Context, *StopTetheringRequest) (*StopTetheringResponse, error)
	Tether(context.Context, *TetherRequest) (*TetherResponse, error)
	Untether(context.Context, *UntetherRequest) (*UntetherResponse, error)
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	ClearErrors(context.Context, *ClearErrorsRequest) (*ClearErrorsResponse, error)
}

// RegisterTetherServer attaches srv's methods to s.
func RegisterTetherServer(s *grpc.Server, srv TetherServer) {
	s.RegisterService(&tetherServiceDesc, srv)
}

// chanSink is a tether.ResultSink that delivers its one result over a
// channel, letting an otherwise-asynchronous StartTethering call answer a
// synchronous RPC.
type chanSink struct{ ch chan tether.ErrorCode }

func newChanSink() *chanSink { return &chanSink{ch: make(chan tether.ErrorCode, 1)} }

func (s *chanSink) Send(code tether.ErrorCode) {
	select {
	case s.ch <- code:
	default:
	}
}

const resultTimeout = 15 * time.Second

// grpcServer implements TetherServer over an Orchestrator.
type grpcServer struct {
	orch *tether.Orchestrator
}

// NewGRPCServer returns a TetherServer backed by orch.
func NewGRPCServer(orch *tether.Orchestrator) TetherServer {
	return &grpcServer{orch: orch}
}

func (s *grpcServer) StartTethering(ctx context.Context, req *StartTetheringRequest) (*StartTetheringResponse, error) {
	t := parseInterfaceType(req.Type)
	sink := newChanSink()
	s.orch.StartTethering(ctx, t, sink, req.ShowUI)

	select {
	case code := <-sink.ch:
		return &StartTetheringResponse{Code: code.String()}, nil
	case <-time.After(resultTimeout):
		return &StartTetheringResponse{Code: tether.ServiceUnavail.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *grpcServer) StopTethering(ctx context.Context, req *StopTetheringRequest) (*StopTetheringResponse, error) {
	code := s.orch.StopTethering(ctx, parseInterfaceType(req.Type))
	return &StopTetheringResponse{Code: code.String()}, nil
}

func (s *grpcServer) Tether(_ context.Context, req *TetherRequest) (*TetherResponse, error) {
	return &TetherResponse{Code: s.orch.Tether(req.Iface).String()}, nil
}

func (s *grpcServer) Untether(_ context.Context, req *UntetherRequest) (*UntetherResponse, error) {
	return &UntetherResponse{Code: s.orch.Untether(req.Iface).String()}, nil
}

func (s *grpcServer) GetStatus(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Tethered:   s.orch.GetTetheredIfaces(),
		Tetherable: s.orch.GetTetherableIfaces(),
		Errored:    s.orch.GetErroredIfaces(),
	}
	if len(resp.Errored) > 0 {
		resp.Errors = make(map[string]string, len(resp.Errored))
		for _, iface := range resp.Errored {
			resp.Errors[iface] = s.orch.GetLastTetherError(iface).String()
		}
	}
	return resp, nil
}

func (s *grpcServer) ClearErrors(_ context.Context, _ *ClearErrorsRequest) (*ClearErrorsResponse, error) {
	s.orch.ClearErrors()
	return &ClearErrorsResponse{}, nil
}

func parseInterfaceType(name string) tether.InterfaceType {
	switch name {
	case "WIFI":
		return tether.InterfaceWifi
	case "USB":
		return tether.InterfaceUSB
	case "BLUETOOTH":
		return tether.InterfaceBluetooth
	default:
		return tether.InterfaceInvalid
	}
}

var tetherServiceDesc = grpc.ServiceDesc{
	ServiceName: "tether.v1.Tether",
	HandlerType: (*TetherServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartTethering",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(StartTetheringRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).StartTethering(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/StartTethering"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).StartTethering(ctx, req.(*StartTetheringRequest))
				})
			},
		},
		{
			MethodName: "StopTethering",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(StopTetheringRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).StopTethering(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/StopTethering"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).StopTethering(ctx, req.(*StopTetheringRequest))
				})
			},
		},
		{
			MethodName: "Tether",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(TetherRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).Tether(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/Tether"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).Tether(ctx, req.(*TetherRequest))
				})
			},
		},
		{
			MethodName: "Untether",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(UntetherRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).Untether(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/Untether"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).Untether(ctx, req.(*UntetherRequest))
				})
			},
		},
		{
			MethodName: "GetStatus",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(StatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).GetStatus(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/GetStatus"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).GetStatus(ctx, req.(*StatusRequest))
				})
			},
		},
		{
			MethodName: "ClearErrors",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ClearErrorsRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TetherServer).ClearErrors(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tether.v1.Tether/ClearErrors"}
				return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(TetherServer).ClearErrors(ctx, req.(*ClearErrorsRequest))
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/tether/api/tether.proto",
}
