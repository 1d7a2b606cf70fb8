package binance

import (
	"errors"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"botcore/internal/venue"
)

// Binance API error codes that matter for classification.
const (
	codeUnknown          = -1000
	codeDisconnected     = -1001
	codeTooManyRequests  = -1003
	codeServiceShutdown  = -1016
	codeTimeout          = -1007
	codeOrderDoesNotExit = -2013
)

// classify wraps a go-binance error with its retry classification. Network
// failures and rate-limit/availability codes are transient; parameter and
// funds rejections are permanent.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		// Plain transport failure.
		return venue.Transient(op, err)
	}
	switch apiErr.Code {
	case codeUnknown, codeDisconnected, codeTooManyRequests, codeTimeout, codeServiceShutdown:
		return venue.Transient(op, err)
	}
	if apiErr.Code <= -1100 && apiErr.Code > -1200 {
		// 11xx range: malformed parameters.
		return venue.Permanent(op, err)
	}
	if apiErr.Code <= -2000 {
		// 2xxx range: order rejections, insufficient balance, unknown order.
		return venue.Permanent(op, err)
	}
	return venue.Transient(op, err)
}

func isNotFound(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeOrderDoesNotExit
}

func mapState(s gobinance.OrderStatusType) venue.State {
	switch s {
	case gobinance.OrderStatusTypeNew:
		return venue.StateNew
	case gobinance.OrderStatusTypePartiallyFilled:
		return venue.StatePartiallyFilled
	case gobinance.OrderStatusTypeFilled:
		return venue.StateFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypePendingCancel:
		return venue.StateCancelled
	case gobinance.OrderStatusTypeRejected:
		return venue.StateRejected
	default:
		return venue.StateUnknown
	}
}

func statusFromOrder(o *gobinance.Order) venue.OrderStatus {
	executed := parseFloat(o.ExecutedQuantity)
	avgPrice := parseFloat(o.Price)
	if quote := parseFloat(o.CummulativeQuoteQuantity); executed > 0 && quote > 0 {
		// Market orders report price 0; derive the average fill price.
		avgPrice = quote / executed
	}
	return venue.OrderStatus{
		VenueOrderID:  strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		State:         mapState(o.Status),
		Price:         avgPrice,
		Quantity:      executed,
		CreatedAt:     time.UnixMilli(o.Time),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func ackFromResponse(res *gobinance.CreateOrderResponse) venue.Ack {
	ack := venue.Ack{
		VenueOrderID: strconv.FormatInt(res.OrderID, 10),
		State:        mapState(res.Status),
		Quantity:     parseFloat(res.ExecutedQuantity),
	}
	if executed := ack.Quantity; executed > 0 {
		if quote := parseFloat(res.CummulativeQuoteQuantity); quote > 0 {
			ack.Price = quote / executed
		}
	}
	for _, f := range res.Fills {
		ack.Fee += parseFloat(f.Commission)
		ack.FeeCurrency = f.CommissionAsset
	}
	return ack
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
