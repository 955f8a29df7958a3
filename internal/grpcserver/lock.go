// Package grpcserver exposes lock-guarded work over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/interceptor"
	"github.com/kneutral-org/resource-lock/internal/lock"
)

// UnaryLockInterceptor guards unary methods with the binding registered
// under their full method name, e.g. "/resourcelock.v1.Invoices/Generate".
// Methods without binding pass through.
func UnaryLockInterceptor(ic *interceptor.Interceptor, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With().Str("component", "grpc-lock").Logger()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ic.Table().Lookup(info.FullMethod); !ok {
			return handler(ctx, req)
		}

		var resp any
		res, err := ic.Run(ctx, info.FullMethod, RequestVars(req), func(ctx context.Context) error {
			var herr error
			resp, herr = handler(ctx, req)
			return herr
		})

		var rejected *interceptor.RejectedError
		if errors.As(err, &rejected) {
			logger.Warn().
				Err(err).
				Str("method", info.FullMethod).
				Str("resource", res.Resource).
				Msg("call rejected by resource lock")
			return nil, StatusForLockError(err)
		}
		return resp, err
	}
}

// StatusForLockError maps an acquisition failure to a gRPC status error.
func StatusForLockError(err error) error {
	switch {
	case errors.Is(err, interceptor.ErrResourceBusy):
		return status.Error(codes.ResourceExhausted, "resource is currently locked")
	case errors.Is(err, lock.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "lock store is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded while waiting for resource lock")
	case errors.Is(err, lock.ErrAcquisitionCanceled):
		return status.Error(codes.Canceled, "call canceled while waiting for resource lock")
	default:
		return status.Error(codes.Internal, "failed to acquire resource lock")
	}
}

// RequestVars exposes a request's scalar fields to binding templates under
// their proto field names. Enums are exposed by value name. For a
// structpb.Struct its string, number and bool entries are used.
func RequestVars(req any) binding.Vars {
	vars := binding.Vars{}
	switch m := req.(type) {
	case *structpb.Struct:
		for key, v := range m.GetFields() {
			switch x := v.GetKind().(type) {
			case *structpb.Value_StringValue:
				vars[key] = x.StringValue
			case *structpb.Value_NumberValue:
				vars[key] = x.NumberValue
			case *structpb.Value_BoolValue:
				vars[key] = x.BoolValue
			}
		}
	case proto.Message:
		msg := m.ProtoReflect()
		fields := msg.Descriptor().Fields()
		for i := 0; i < fields.Len(); i++ {
			fd := fields.Get(i)
			if fd.IsList() || fd.IsMap() {
				continue
			}
			name := string(fd.Name())
			v := msg.Get(fd)
			switch fd.Kind() {
			case protoreflect.MessageKind, protoreflect.GroupKind, protoreflect.BytesKind:
			case protoreflect.EnumKind:
				if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
					vars[name] = string(ev.Name())
				} else {
					vars[name] = int32(v.Enum())
				}
			default:
				vars[name] = v.Interface()
			}
		}
	}
	return vars
}
