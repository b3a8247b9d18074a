package server

import (
	"context"
	"errors"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/state"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

const ledgerServiceName = "eqaledger.v1.Ledger"

// LedgerServer is the eqaledger.v1.Ledger command service. Requests are the
// ingestion wire messages; every call is applied by the core before it returns.
type LedgerServer interface {
	Mint(context.Context, *ingestion.IssuanceMessage) (*MintResponse, error)
	Redeem(context.Context, *ingestion.IssuanceMessage) (*RedeemResponse, error)
	DepositCollateral(context.Context, *ingestion.CollateralMessage) (*OutcomeResponse, error)
	WithdrawCollateral(context.Context, *ingestion.CollateralMessage) (*OutcomeResponse, error)
	UpdateCollateral(context.Context, *ingestion.CollateralUpdateMessage) (*OutcomeResponse, error)
	CheckLiquidation(context.Context, *ingestion.LiquidationCheckMessage) (*LiquidationCheckResponse, error)
	UpdateFeeParams(context.Context, *ingestion.FeeParamsMessage) (*OutcomeResponse, error)
	UpdateLiquidationConfig(context.Context, *ingestion.LiquidationConfigMessage) (*OutcomeResponse, error)
	SubmitPrice(context.Context, *ingestion.PriceMessage) (*OutcomeResponse, error)
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Mint", Handler: unary("Mint", LedgerServer.Mint)},
		{MethodName: "Redeem", Handler: unary("Redeem", LedgerServer.Redeem)},
		{MethodName: "DepositCollateral", Handler: unary("DepositCollateral", LedgerServer.DepositCollateral)},
		{MethodName: "WithdrawCollateral", Handler: unary("WithdrawCollateral", LedgerServer.WithdrawCollateral)},
		{MethodName: "UpdateCollateral", Handler: unary("UpdateCollateral", LedgerServer.UpdateCollateral)},
		{MethodName: "CheckLiquidation", Handler: unary("CheckLiquidation", LedgerServer.CheckLiquidation)},
		{MethodName: "UpdateFeeParams", Handler: unary("UpdateFeeParams", LedgerServer.UpdateFeeParams)},
		{MethodName: "UpdateLiquidationConfig", Handler: unary("UpdateLiquidationConfig", LedgerServer.UpdateLiquidationConfig)},
		{MethodName: "SubmitPrice", Handler: unary("SubmitPrice", LedgerServer.SubmitPrice)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eqaledger/v1/ledger",
}

func fullMethod(method string) string {
	return "/" + ledgerServiceName + "/" + method
}

// unary adapts a typed LedgerServer method to a grpc.MethodHandler.
func unary[Req, Resp any](
	method string,
	call func(LedgerServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod(method)}
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, req)
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv.(LedgerServer), ctx, r.(*Req))
		}
		withServer := *info
		withServer.Server = srv
		return interceptor(ctx, req, &withServer, handler)
	}
}

// LedgerClient calls eqaledger.v1.Ledger with the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Mint(ctx context.Context, in *ingestion.IssuanceMessage, opts ...grpc.CallOption) (*MintResponse, error) {
	return invoke[MintResponse](ctx, c.cc, "Mint", in, opts)
}

func (c *LedgerClient) Redeem(ctx context.Context, in *ingestion.IssuanceMessage, opts ...grpc.CallOption) (*RedeemResponse, error) {
	return invoke[RedeemResponse](ctx, c.cc, "Redeem", in, opts)
}

func (c *LedgerClient) DepositCollateral(ctx context.Context, in *ingestion.CollateralMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "DepositCollateral", in, opts)
}

func (c *LedgerClient) WithdrawCollateral(ctx context.Context, in *ingestion.CollateralMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "WithdrawCollateral", in, opts)
}

func (c *LedgerClient) UpdateCollateral(ctx context.Context, in *ingestion.CollateralUpdateMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "UpdateCollateral", in, opts)
}

func (c *LedgerClient) CheckLiquidation(ctx context.Context, in *ingestion.LiquidationCheckMessage, opts ...grpc.CallOption) (*LiquidationCheckResponse, error) {
	return invoke[LiquidationCheckResponse](ctx, c.cc, "CheckLiquidation", in, opts)
}

func (c *LedgerClient) UpdateFeeParams(ctx context.Context, in *ingestion.FeeParamsMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "UpdateFeeParams", in, opts)
}

func (c *LedgerClient) UpdateLiquidationConfig(ctx context.Context, in *ingestion.LiquidationConfigMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "UpdateLiquidationConfig", in, opts)
}

func (c *LedgerClient) SubmitPrice(ctx context.Context, in *ingestion.PriceMessage, opts ...grpc.CallOption) (*OutcomeResponse, error) {
	return invoke[OutcomeResponse](ctx, c.cc, "SubmitPrice", in, opts)
}

// ledgerService parses requests like the NATS path does and submits them to
// the core loop.
type ledgerService struct {
	parser    *ingestion.Parser
	submitter *ingestion.Submitter
	now       func() time.Time
}

func newLedgerService(parser *ingestion.Parser, submitter *ingestion.Submitter) *ledgerService {
	return &ledgerService{parser: parser, submitter: submitter, now: time.Now}
}

// ensureRequestID gives synchronous callers that omit request_id a fresh one.
// Such a request is never deduplicated against a retry.
func ensureRequestID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (s *ledgerService) submit(ctx context.Context, evt event.Event) (core.Outcome, error) {
	out, err := s.submitter.Submit(ctx, evt)
	if err != nil {
		return out, toStatus(err)
	}
	return out, nil
}

func (s *ledgerService) ack(ctx context.Context, evt event.Event, parseErr error) (*OutcomeResponse, error) {
	if parseErr != nil {
		return nil, toStatus(parseErr)
	}
	out, err := s.submit(ctx, evt)
	if err != nil {
		return nil, err
	}
	resp := newOutcomeResponse(out)
	return &resp, nil
}

func (s *ledgerService) Mint(ctx context.Context, req *ingestion.IssuanceMessage) (*MintResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.Mint(*req, s.now())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.submit(ctx, evt)
	if err != nil {
		return nil, err
	}
	return newMintResponse(out), nil
}

func (s *ledgerService) Redeem(ctx context.Context, req *ingestion.IssuanceMessage) (*RedeemResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.Redeem(*req, s.now())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.submit(ctx, evt)
	if err != nil {
		return nil, err
	}
	return newRedeemResponse(out), nil
}

func (s *ledgerService) DepositCollateral(ctx context.Context, req *ingestion.CollateralMessage) (*OutcomeResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.Deposit(*req, s.now())
	return s.ack(ctx, evt, err)
}

func (s *ledgerService) WithdrawCollateral(ctx context.Context, req *ingestion.CollateralMessage) (*OutcomeResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.Withdraw(*req, s.now())
	return s.ack(ctx, evt, err)
}

func (s *ledgerService) UpdateCollateral(ctx context.Context, req *ingestion.CollateralUpdateMessage) (*OutcomeResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.CollateralUpdate(*req, s.now())
	return s.ack(ctx, evt, err)
}

// CheckLiquidation answers a failed check with its report instead of an
// error: the caller asked a question and "liquidate" is the answer.
func (s *ledgerService) CheckLiquidation(ctx context.Context, req *ingestion.LiquidationCheckMessage) (*LiquidationCheckResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.LiquidationCheck(*req, s.now())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.submitter.Submit(ctx, evt)
	if err != nil && !(errors.Is(err, state.ErrInsufficientCollateral) && out.Signal != nil) {
		return nil, toStatus(err)
	}
	return newLiquidationCheckResponse(out), nil
}

func (s *ledgerService) UpdateFeeParams(ctx context.Context, req *ingestion.FeeParamsMessage) (*OutcomeResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.FeeParams(*req, s.now())
	return s.ack(ctx, evt, err)
}

func (s *ledgerService) UpdateLiquidationConfig(ctx context.Context, req *ingestion.LiquidationConfigMessage) (*OutcomeResponse, error) {
	ensureRequestID(&req.RequestID)
	evt, err := s.parser.LiquidationConfig(*req, s.now())
	return s.ack(ctx, evt, err)
}

func (s *ledgerService) SubmitPrice(ctx context.Context, req *ingestion.PriceMessage) (*OutcomeResponse, error) {
	evt, err := s.parser.Price(*req, s.now())
	return s.ack(ctx, evt, err)
}
