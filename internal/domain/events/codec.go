package events

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	pkgevents "github.com/floroz/marketalloc/pkg/events"
)

// Marshal encodes an event as a protobuf Struct. Amounts are written as
// decimal strings so int64 values survive the float64 number type.
func Marshal(e Event) ([]byte, error) {
	fields, err := fieldsOf(e)
	if err != nil {
		return nil, err
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build payload for %s: %w", e.EventType(), err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", e.EventType(), err)
	}
	return data, nil
}

func fieldsOf(e Event) (map[string]any, error) {
	switch ev := e.(type) {
	case BidPlaced:
		return map[string]any{
			"bid_id":     ev.BidID.String(),
			"auction_id": ev.AuctionID.String(),
			"bidder_id":  ev.BidderID.String(),
			"amount":     strconv.FormatInt(ev.Amount, 10),
			"end_time":   formatTime(ev.EndTime),
			"placed_at":  formatTime(ev.PlacedAt),
		}, nil
	case AuctionEnded:
		return map[string]any{
			"auction_id":  ev.AuctionID.String(),
			"seller_id":   ev.SellerID.String(),
			"winner_id":   formatOptionalID(ev.WinnerID),
			"final_price": strconv.FormatInt(ev.FinalPrice, 10),
			"ended_at":    formatTime(ev.EndedAt),
		}, nil
	case WaitlistJoined:
		fields := map[string]any{
			"resource_id": ev.ResourceID.String(),
			"user_id":     ev.UserID.String(),
			"position":    ev.Position,
			"joined_at":   formatTime(ev.JoinedAt),
		}
		if ev.PreferredEndDate != nil {
			fields["preferred_end_date"] = formatTime(*ev.PreferredEndDate)
		}
		return fields, nil
	case BorrowAssigned:
		return map[string]any{
			"resource_id":  ev.ResourceID.String(),
			"borrower_id":  ev.BorrowerID.String(),
			"borrow_start": formatTime(ev.BorrowStart),
			"borrow_end":   formatTime(ev.BorrowEnd),
			"assigned_at":  formatTime(ev.AssignedAt),
		}, nil
	case BorrowReleased:
		return map[string]any{
			"resource_id":          ev.ResourceID.String(),
			"previous_borrower_id": formatOptionalID(ev.PreviousBorrowerID),
			"released_at":          formatTime(ev.ReleasedAt),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported event %T", e)
	}
}

// Unmarshal decodes a payload written by Marshal for the given event type
func Unmarshal(t Type, data []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", t, err)
	}
	d := decoder{fields: s.GetFields()}

	var ev Event
	switch t {
	case TypeBidPlaced:
		ev = BidPlaced{
			BidID:     d.id("bid_id"),
			AuctionID: d.id("auction_id"),
			BidderID:  d.id("bidder_id"),
			Amount:    d.amount("amount"),
			EndTime:   d.timestamp("end_time"),
			PlacedAt:  d.timestamp("placed_at"),
		}
	case TypeAuctionEnded:
		ev = AuctionEnded{
			AuctionID:  d.id("auction_id"),
			SellerID:   d.id("seller_id"),
			WinnerID:   d.optionalID("winner_id"),
			FinalPrice: d.amount("final_price"),
			EndedAt:    d.timestamp("ended_at"),
		}
	case TypeWaitlistJoined:
		ev = WaitlistJoined{
			ResourceID:       d.id("resource_id"),
			UserID:           d.id("user_id"),
			Position:         int(d.fields["position"].GetNumberValue()),
			PreferredEndDate: d.optionalTime("preferred_end_date"),
			JoinedAt:         d.timestamp("joined_at"),
		}
	case TypeBorrowAssigned:
		ev = BorrowAssigned{
			ResourceID:  d.id("resource_id"),
			BorrowerID:  d.id("borrower_id"),
			BorrowStart: d.timestamp("borrow_start"),
			BorrowEnd:   d.timestamp("borrow_end"),
			AssignedAt:  d.timestamp("assigned_at"),
		}
	case TypeBorrowReleased:
		ev = BorrowReleased{
			ResourceID:         d.id("resource_id"),
			PreviousBorrowerID: d.optionalID("previous_borrower_id"),
			ReleasedAt:         d.timestamp("released_at"),
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if d.err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t, d.err)
	}
	return ev, nil
}

// NewOutboxEvent serializes e into a pending outbox row
func NewOutboxEvent(e Event) (*pkgevents.OutboxEvent, error) {
	payload, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	return &pkgevents.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: e.AggregateID(),
		EventType:   e.EventType().String(),
		Payload:     payload,
		Status:      pkgevents.OutboxStatusPending,
		CreatedAt:   e.OccurredAt(),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

var errMissing = errors.New("missing")

// decoder keeps the first error so field reads stay on one line each
type decoder struct {
	fields map[string]*structpb.Value
	err    error
}

func (d *decoder) str(key string) (string, bool) {
	v, ok := d.fields[key]
	if !ok {
		return "", false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", false
	}
	return v.GetStringValue(), true
}

func (d *decoder) fail(key string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("field %s: %w", key, err)
	}
}

func (d *decoder) id(key string) uuid.UUID {
	s, ok := d.str(key)
	if !ok {
		d.fail(key, errMissing)
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		d.fail(key, err)
	}
	return id
}

func (d *decoder) optionalID(key string) *uuid.UUID {
	if _, ok := d.str(key); !ok {
		return nil
	}
	id := d.id(key)
	return &id
}

func (d *decoder) amount(key string) int64 {
	s, ok := d.str(key)
	if !ok {
		d.fail(key, errMissing)
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d.fail(key, err)
	}
	return n
}

func (d *decoder) timestamp(key string) time.Time {
	s, ok := d.str(key)
	if !ok {
		d.fail(key, errMissing)
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(key, err)
	}
	return t
}

func (d *decoder) optionalTime(key string) *time.Time {
	if _, ok := d.str(key); !ok {
		return nil
	}
	t := d.timestamp(key)
	return &t
}
