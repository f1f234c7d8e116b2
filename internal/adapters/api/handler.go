package api

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/floroz/marketalloc/internal/domain/auctions"
	"github.com/floroz/marketalloc/internal/domain/borrows"
	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/pkg/auth"
	"github.com/floroz/marketalloc/pkg/clock"
)

type AuctionService interface {
	CreateAuction(ctx context.Context, cmd auctions.CreateAuctionCommand) (*auctions.Auction, error)
	PlaceBid(ctx context.Context, cmd auctions.PlaceBidCommand) (*auctions.BidResult, error)
	FinalizeIfExpired(ctx context.Context, auctionID uuid.UUID) (*auctions.Outcome, error)
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error)
	GetSnapshot(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*auctions.Bid, error)
}

type BorrowService interface {
	CreateBorrowable(ctx context.Context, cmd borrows.CreateBorrowableCommand) (*borrows.Borrowable, error)
	GetBorrowable(ctx context.Context, id uuid.UUID) (*borrows.Borrowable, error)
	RequestBorrow(ctx context.Context, cmd borrows.RequestBorrowCommand) (*borrows.RequestResult, error)
}

// Waitlist is the read and leave surface of the waitlist queue
type Waitlist interface {
	ListOrdered(ctx context.Context, resourceID uuid.UUID) ([]*waitlist.Entry, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*waitlist.Entry, error)
	Position(ctx context.Context, userID, resourceID uuid.UUID) (int, error)
	Size(ctx context.Context, resourceID uuid.UUID) (int, error)
	Leave(ctx context.Context, userID, resourceID uuid.UUID) error
	IsQueued(ctx context.Context, userID, resourceID uuid.UUID) (bool, error)
}

type Handler struct {
	auctions   AuctionService
	borrows    BorrowService
	waitlist   Waitlist
	clock      clock.Clock
	borrowDays int
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewHandler(a AuctionService, b BorrowService, w Waitlist, clk clock.Clock, borrowDays int, logger *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	if borrowDays <= 0 {
		borrowDays = borrows.DefaultBorrowDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auctions:   a,
		borrows:    b,
		waitlist:   w,
		clock:      clk,
		borrowDays: borrowDays,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

func (h *Handler) check(msg any) error {
	if err := h.validate.Struct(msg); err != nil {
		return invalidRequest(err)
	}
	return nil
}

func (h *Handler) fail(procedure string, err error) error {
	connectErr := toConnectError(err)
	if connectErr.Code() == connect.CodeInternal {
		h.logger.Error("request failed", "procedure", procedure, "error", err)
	}
	return connectErr
}

func currentUser(ctx context.Context) (uuid.UUID, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing user"))
	}
	return userID, nil
}

func (h *Handler) PlaceBid(
	ctx context.Context,
	req *connect.Request[PlaceBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	result, err := h.auctions.PlaceBid(ctx, auctions.PlaceBidCommand{
		AuctionID: req.Msg.AuctionID,
		BidderID:  userID,
		Amount:    req.Msg.Amount,
	})
	if err != nil {
		return nil, h.fail(ProcedurePlaceBid, err)
	}

	return connect.NewResponse(&PlaceBidResponse{
		Bid:          toBid(result.Bid),
		CurrentPrice: result.CurrentPrice,
		EndTime:      result.EndTime,
		Extended:     result.Extended,
	}), nil
}

// GetAuction serves the cached snapshot unless bids are requested
func (h *Handler) GetAuction(
	ctx context.Context,
	req *connect.Request[GetAuctionRequest],
) (*connect.Response[GetAuctionResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	var (
		auction *auctions.Auction
		err     error
	)
	if req.Msg.IncludeBids {
		auction, err = h.auctions.GetAuction(ctx, req.Msg.AuctionID)
	} else {
		auction, err = h.auctions.GetSnapshot(ctx, req.Msg.AuctionID)
	}
	if err != nil {
		return nil, h.fail(ProcedureGetAuction, err)
	}

	return connect.NewResponse(&GetAuctionResponse{
		Auction:          toAuction(auction),
		RemainingSeconds: int64(auction.Remaining(h.clock.Now()).Seconds()),
	}), nil
}

func (h *Handler) ListBids(
	ctx context.Context,
	req *connect.Request[ListBidsRequest],
) (*connect.Response[ListBidsResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	bids, err := h.auctions.ListBids(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, h.fail(ProcedureListBids, err)
	}
	return connect.NewResponse(&ListBidsResponse{Bids: toBids(bids)}), nil
}

func (h *Handler) CreateAuction(
	ctx context.Context,
	req *connect.Request[CreateAuctionRequest],
) (*connect.Response[CreateAuctionResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	auction, err := h.auctions.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID:   userID,
		Title:      req.Msg.Title,
		StartPrice: req.Msg.StartPrice,
		StartTime:  req.Msg.StartTime,
		EndTime:    req.Msg.EndTime,
	})
	if err != nil {
		return nil, h.fail(ProcedureCreateAuction, err)
	}
	return connect.NewResponse(&CreateAuctionResponse{Auction: toAuction(auction)}), nil
}

func (h *Handler) FinalizeAuction(
	ctx context.Context,
	req *connect.Request[FinalizeAuctionRequest],
) (*connect.Response[FinalizeAuctionResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	outcome, err := h.auctions.FinalizeIfExpired(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, h.fail(ProcedureFinalizeAuction, err)
	}
	return connect.NewResponse(&FinalizeAuctionResponse{
		AuctionID:  outcome.AuctionID,
		Ended:      outcome.Ended,
		Finalized:  outcome.Finalized,
		WinnerID:   outcome.WinnerID,
		FinalPrice: outcome.FinalPrice,
		EndTime:    outcome.EndTime,
	}), nil
}

// RequestBorrow queues the caller. The response is empty; clients read the
// outcome through the waitlist and borrowable procedures.
func (h *Handler) RequestBorrow(
	ctx context.Context,
	req *connect.Request[RequestBorrowRequest],
) (*connect.Response[RequestBorrowResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	if _, err := h.borrows.RequestBorrow(ctx, borrows.RequestBorrowCommand{
		ResourceID: req.Msg.ResourceID,
		UserID:     userID,
		StartDate:  req.Msg.StartDate,
		EndDate:    req.Msg.EndDate,
	}); err != nil {
		return nil, h.fail(ProcedureRequestBorrow, err)
	}
	return connect.NewResponse(&RequestBorrowResponse{}), nil
}

func (h *Handler) CreateBorrowable(
	ctx context.Context,
	req *connect.Request[CreateBorrowableRequest],
) (*connect.Response[CreateBorrowableResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	b, err := h.borrows.CreateBorrowable(ctx, borrows.CreateBorrowableCommand{
		SellerID:  userID,
		Title:     req.Msg.Title,
		DailyRate: req.Msg.DailyRate,
	})
	if err != nil {
		return nil, h.fail(ProcedureCreateBorrowable, err)
	}
	return connect.NewResponse(&CreateBorrowableResponse{Borrowable: toBorrowable(b)}), nil
}

func (h *Handler) GetBorrowable(
	ctx context.Context,
	req *connect.Request[GetBorrowableRequest],
) (*connect.Response[GetBorrowableResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	b, err := h.borrows.GetBorrowable(ctx, req.Msg.ResourceID)
	if err != nil {
		return nil, h.fail(ProcedureGetBorrowable, err)
	}

	days := req.Msg.Days
	if days == 0 {
		days = h.borrowDays
	}
	return connect.NewResponse(&GetBorrowableResponse{
		Borrowable: toBorrowable(b),
		Days:       days,
		RatedCost:  b.RatedCost(days),
	}), nil
}

func (h *Handler) GetWaitlist(
	ctx context.Context,
	req *connect.Request[GetWaitlistRequest],
) (*connect.Response[GetWaitlistResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	entries, err := h.waitlist.ListOrdered(ctx, req.Msg.ResourceID)
	if err != nil {
		return nil, h.fail(ProcedureGetWaitlist, err)
	}

	out := make([]WaitlistEntry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e, i)
	}
	return connect.NewResponse(&GetWaitlistResponse{Entries: out}), nil
}

func (h *Handler) GetWaitlistPosition(
	ctx context.Context,
	req *connect.Request[GetWaitlistPositionRequest],
) (*connect.Response[GetWaitlistPositionResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	pos, err := h.waitlist.Position(ctx, userID, req.Msg.ResourceID)
	if err != nil {
		return nil, h.fail(ProcedureGetWaitlistPosition, err)
	}
	return connect.NewResponse(&GetWaitlistPositionResponse{
		Position: pos,
		Queued:   pos != waitlist.NotQueued,
	}), nil
}

func (h *Handler) GetWaitlistSize(
	ctx context.Context,
	req *connect.Request[GetWaitlistSizeRequest],
) (*connect.Response[GetWaitlistSizeResponse], error) {
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	n, err := h.waitlist.Size(ctx, req.Msg.ResourceID)
	if err != nil {
		return nil, h.fail(ProcedureGetWaitlistSize, err)
	}
	return connect.NewResponse(&GetWaitlistSizeResponse{Size: n}), nil
}

func (h *Handler) ListUserWaitlists(
	ctx context.Context,
	req *connect.Request[ListUserWaitlistsRequest],
) (*connect.Response[ListUserWaitlistsResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := h.waitlist.ListForUser(ctx, userID)
	if err != nil {
		return nil, h.fail(ProcedureListUserWaitlists, err)
	}

	out := make([]WaitlistEntry, 0, len(entries))
	for _, e := range entries {
		pos, err := h.waitlist.Position(ctx, userID, e.ResourceID)
		if err != nil {
			return nil, h.fail(ProcedureListUserWaitlists, err)
		}
		// The entry may have been dequeued between the two reads
		if pos == waitlist.NotQueued {
			continue
		}
		out = append(out, toEntry(e, pos))
	}
	return connect.NewResponse(&ListUserWaitlistsResponse{Entries: out}), nil
}

func (h *Handler) LeaveWaitlist(
	ctx context.Context,
	req *connect.Request[LeaveWaitlistRequest],
) (*connect.Response[LeaveWaitlistResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	if err := h.waitlist.Leave(ctx, userID, req.Msg.ResourceID); err != nil {
		return nil, h.fail(ProcedureLeaveWaitlist, err)
	}
	return connect.NewResponse(&LeaveWaitlistResponse{}), nil
}

func (h *Handler) IsOnWaitlist(
	ctx context.Context,
	req *connect.Request[IsOnWaitlistRequest],
) (*connect.Response[IsOnWaitlistResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.check(req.Msg); err != nil {
		return nil, err
	}

	queued, err := h.waitlist.IsQueued(ctx, userID, req.Msg.ResourceID)
	if err != nil {
		return nil, h.fail(ProcedureIsOnWaitlist, err)
	}
	return connect.NewResponse(&IsOnWaitlistResponse{Queued: queued}), nil
}
