package grpcserver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/invoice"
)

const (
	// InvoicesServiceName is the gRPC service exposing invoice generation.
	InvoicesServiceName = "resourcelock.v1.Invoices"

	// GenerateInvoiceMethod is the full method name, also used as binding unit.
	GenerateInvoiceMethod = "/" + InvoicesServiceName + "/Generate"
)

// InvoicesServer is the server API of the Invoices service. Requests and
// responses are google.protobuf.Struct values: {"id": "7"}.
type InvoicesServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// InvoicesServiceDesc describes the Invoices service for grpc.Server.RegisterService.
var InvoicesServiceDesc = grpc.ServiceDesc{
	ServiceName: InvoicesServiceName,
	HandlerType: (*InvoicesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Generate",
			Handler:    generateInvoiceHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func generateInvoiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InvoicesServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GenerateInvoiceMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InvoicesServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterInvoicesServer registers srv on s.
func RegisterInvoicesServer(s grpc.ServiceRegistrar, srv InvoicesServer) {
	s.RegisterService(&InvoicesServiceDesc, srv)
}

// RegisterBindings adds the lock bindings of the gRPC methods to table.
func RegisterBindings(table *binding.Table) error {
	return table.Register(GenerateInvoiceMethod, invoice.Binding())
}

// GenerateInvoice calls the Invoices service through conn.
func GenerateInvoice(ctx context.Context, conn grpc.ClientConnInterface, id string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, GenerateInvoiceMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// InvoiceService implements InvoicesServer on top of an invoice.Generator.
// It relies on the lock interceptor for exclusivity.
type InvoiceService struct {
	generator *invoice.Generator
	logger    zerolog.Logger
}

// NewInvoiceService creates an InvoiceService.
func NewInvoiceService(generator *invoice.Generator, logger zerolog.Logger) *InvoiceService {
	return &InvoiceService{
		generator: generator,
		logger:    logger.With().Str("service", "invoices").Logger(),
	}
}

// Generate generates the invoice named by the "id" field.
func (s *InvoiceService) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := invoiceID(req)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	inv, err := s.generator.Generate(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		s.logger.Error().Err(err).Str("invoiceId", id).Msg("failed to generate invoice")
		return nil, status.Error(codes.Internal, "failed to generate invoice")
	}

	resp, err := structpb.NewStruct(map[string]any{
		"status":      "success",
		"id":          inv.ID,
		"generatedAt": inv.GeneratedAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return resp, nil
}

func invoiceID(req *structpb.Struct) string {
	v, ok := req.GetFields()["id"]
	if !ok {
		return ""
	}
	switch x := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return x.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(x.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}
