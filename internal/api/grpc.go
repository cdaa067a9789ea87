package api

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"kellyfactor/internal/publish"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "kelly.v1.LeverageService"

const (
	latestMethod = "/" + ServiceName + "/Latest"
	tableMethod  = "/" + ServiceName + "/Table"
)

// LeverageServer is the server API of kelly.v1.LeverageService. Rows travel
// as well-known protobuf types so no generated code is needed.
type LeverageServer interface {
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Table(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// LeverageServiceDesc describes kelly.v1.LeverageService for grpc.Server.
var LeverageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LeverageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
		{MethodName: "Table", Handler: tableHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kelly/v1/leverage.proto",
}

func latestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeverageServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: latestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LeverageServer).Latest(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func tableHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeverageServer).Table(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: tableMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LeverageServer).Table(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// LeverageService serves the published table from a Snapshot.
type LeverageService struct {
	snap *publish.Snapshot
}

// NewLeverageService creates a LeverageService backed by snap.
func NewLeverageService(snap *publish.Snapshot) *LeverageService {
	return &LeverageService{snap: snap}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *LeverageService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&LeverageServiceDesc, s)
}

// Latest returns the newest published row with an extra "updated_at" field.
func (s *LeverageService) Latest(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	row, ok := s.snap.Latest()
	if !ok {
		return nil, status.Error(codes.Unavailable, "table not published yet")
	}
	fields := rowFields(row)
	fields["updated_at"] = s.snap.UpdatedAt().UTC().Format(time.RFC3339)
	return structpb.NewStruct(fields)
}

// Table returns every published row in table order.
func (s *LeverageService) Table(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	rows := s.snap.Rows()
	if len(rows) == 0 {
		return nil, status.Error(codes.Unavailable, "table not published yet")
	}
	values := make([]*structpb.Value, len(rows))
	for i, row := range rows {
		st, err := structpb.NewStruct(rowFields(row))
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encoding row %d: %v", i, err)
		}
		values[i] = structpb.NewStructValue(st)
	}
	return &structpb.ListValue{Values: values}, nil
}

// rowFields maps a row to struct fields keyed by the published column names.
// NaN becomes null.
func rowFields(r publish.Row) map[string]any {
	return map[string]any{
		"date":                   r.Date.Format(time.DateOnly),
		"close":                  numOrNil(r.Close),
		"kelly_fraction_applied": numOrNil(r.KellyFractionApplied),
		"strategy_cum_returns":   numOrNil(r.StrategyCumReturns),
		"cum_returns":            numOrNil(r.CumReturns),
	}
}

func numOrNil(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// rowFromStruct is the inverse of rowFields.
func rowFromStruct(st *structpb.Struct) (publish.Row, error) {
	f := st.GetFields()
	date, err := time.Parse(time.DateOnly, f["date"].GetStringValue())
	if err != nil {
		return publish.Row{}, fmt.Errorf("parsing row date: %w", err)
	}
	return publish.Row{
		Date:                 date,
		Close:                numberOf(f["close"]),
		KellyFractionApplied: numberOf(f["kelly_fraction_applied"]),
		StrategyCumReturns:   numberOf(f["strategy_cum_returns"]),
		CumReturns:           numberOf(f["cum_returns"]),
	}, nil
}

func numberOf(v *structpb.Value) float64 {
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return n.NumberValue
	}
	return math.NaN()
}

// Client calls kelly.v1.LeverageService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client targeting the given gRPC address. Extra options are
// appended after insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Latest returns the newest published row and the time it was published.
func (c *Client) Latest(ctx context.Context) (publish.Row, time.Time, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, latestMethod, &emptypb.Empty{}, out); err != nil {
		return publish.Row{}, time.Time{}, err
	}
	row, err := rowFromStruct(out)
	if err != nil {
		return publish.Row{}, time.Time{}, err
	}
	updated, err := time.Parse(time.RFC3339, out.GetFields()["updated_at"].GetStringValue())
	if err != nil {
		return publish.Row{}, time.Time{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return row, updated, nil
}

// Table returns every published row.
func (c *Client) Table(ctx context.Context) ([]publish.Row, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, tableMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	rows := make([]publish.Row, 0, len(out.GetValues()))
	for i, v := range out.GetValues() {
		row, err := rowFromStruct(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
