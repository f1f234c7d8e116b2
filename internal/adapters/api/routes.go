package api

import (
	"net/http"

	"connectrpc.com/connect"
)

const ServiceName = "marketplace.v1.AllocationService"

const (
	ProcedurePlaceBid            = "/" + ServiceName + "/PlaceBid"
	ProcedureGetAuction          = "/" + ServiceName + "/GetAuction"
	ProcedureListBids            = "/" + ServiceName + "/ListBids"
	ProcedureCreateAuction       = "/" + ServiceName + "/CreateAuction"
	ProcedureFinalizeAuction     = "/" + ServiceName + "/FinalizeAuction"
	ProcedureRequestBorrow       = "/" + ServiceName + "/RequestBorrow"
	ProcedureCreateBorrowable    = "/" + ServiceName + "/CreateBorrowable"
	ProcedureGetBorrowable       = "/" + ServiceName + "/GetBorrowable"
	ProcedureGetWaitlist         = "/" + ServiceName + "/GetWaitlist"
	ProcedureGetWaitlistPosition = "/" + ServiceName + "/GetWaitlistPosition"
	ProcedureGetWaitlistSize     = "/" + ServiceName + "/GetWaitlistSize"
	ProcedureListUserWaitlists   = "/" + ServiceName + "/ListUserWaitlists"
	ProcedureLeaveWaitlist       = "/" + ServiceName + "/LeaveWaitlist"
	ProcedureIsOnWaitlist        = "/" + ServiceName + "/IsOnWaitlist"
)

// PublicProcedures can be called without a bearer token
var PublicProcedures = []string{
	ProcedureGetAuction,
	ProcedureListBids,
	ProcedureGetBorrowable,
	ProcedureGetWaitlist,
	ProcedureGetWaitlistSize,
}

// ClientOptions are required by clients of the service
func ClientOptions() []connect.ClientOption {
	return []connect.ClientOption{connect.WithCodec(jsonCodec{})}
}

// Routes returns the mount path and handler for every procedure
func (h *Handler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ProcedurePlaceBid, connect.NewUnaryHandler(ProcedurePlaceBid, h.PlaceBid, opts...))
	mux.Handle(ProcedureGetAuction, connect.NewUnaryHandler(ProcedureGetAuction, h.GetAuction, opts...))
	mux.Handle(ProcedureListBids, connect.NewUnaryHandler(ProcedureListBids, h.ListBids, opts...))
	mux.Handle(ProcedureCreateAuction, connect.NewUnaryHandler(ProcedureCreateAuction, h.CreateAuction, opts...))
	mux.Handle(ProcedureFinalizeAuction, connect.NewUnaryHandler(ProcedureFinalizeAuction, h.FinalizeAuction, opts...))
	mux.Handle(ProcedureRequestBorrow, connect.NewUnaryHandler(ProcedureRequestBorrow, h.RequestBorrow, opts...))
	mux.Handle(ProcedureCreateBorrowable, connect.NewUnaryHandler(ProcedureCreateBorrowable, h.CreateBorrowable, opts...))
	mux.Handle(ProcedureGetBorrowable, connect.NewUnaryHandler(ProcedureGetBorrowable, h.GetBorrowable, opts...))
	mux.Handle(ProcedureGetWaitlist, connect.NewUnaryHandler(ProcedureGetWaitlist, h.GetWaitlist, opts...))
	mux.Handle(ProcedureGetWaitlistPosition, connect.NewUnaryHandler(ProcedureGetWaitlistPosition, h.GetWaitlistPosition, opts...))
	mux.Handle(ProcedureGetWaitlistSize, connect.NewUnaryHandler(ProcedureGetWaitlistSize, h.GetWaitlistSize, opts...))
	mux.Handle(ProcedureListUserWaitlists, connect.NewUnaryHandler(ProcedureListUserWaitlists, h.ListUserWaitlists, opts...))
	mux.Handle(ProcedureLeaveWaitlist, connect.NewUnaryHandler(ProcedureLeaveWaitlist, h.LeaveWaitlist, opts...))
	mux.Handle(ProcedureIsOnWaitlist, connect.NewUnaryHandler(ProcedureIsOnWaitlist, h.IsOnWaitlist, opts...))

	return "/" + ServiceName + "/", mux
}
