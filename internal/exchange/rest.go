package exchange

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

// Operation names used in errors and logs.
const (
	OpPing        = "ping"
	OpBalance     = "getBalance"
	OpPrice       = "getPrice"
	OpTicker      = "getTicker"
	OpSymbolInfo  = "getSymbolInfo"
	OpKlines      = "getKlines"
	OpPlaceOrder  = "placeOrder"
	OpOrderStatus = "getOrderStatus"
	OpMyTrades    = "getMyTrades"
	OpOpenOrders  = "getOpenOrders"
	OpCancelOrder = "cancelOrder"
)

// RESTClient is the shared transport of the hand-signed venues.
type RESTClient struct {
	Venue   string
	BaseURL string
	Client  *http.Client
}

func NewRESTClient(venue, baseURL string) *RESTClient {
	return &RESTClient{
		Venue:   venue,
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Do executes req and returns the response body. Network failures come back as
// model.ErrTransport and non-2xx statuses are classified with ClassifyStatus.
func (c *RESTClient) Do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, model.TransportErr(c.Venue, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.TransportErr(c.Venue, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Venue API error", "venue", c.Venue, "op", op, "status", resp.Status, "body", model.Truncate(string(body), 300))
		return body, ClassifyStatus(c.Venue, op, resp.StatusCode, body)
	}
	return body, nil
}

// ClassifyStatus maps an HTTP status to the error taxonomy.
func ClassifyStatus(venue, op string, status int, body []byte) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ErrAuth
	case status == http.StatusTooManyRequests || status >= 500:
		kind = model.ErrTransport
	default:
		kind = ClassifyKind(op)
	}
	return &model.VenueError{
		Kind:    kind,
		Venue:   venue,
		Op:      op,
		Code:    strconv.Itoa(status),
		Message: model.Truncate(string(body), 300),
	}
}

// ClassifyKind is the kind of a venue-declared failure: a rejection for order placement,
// bad market data for everything else.
func ClassifyKind(op string) error {
	if op == OpPlaceOrder {
		return model.ErrOrderRejected
	}
	return model.ErrMarketData
}

// MalformedErr reports a response that could not be decoded.
func MalformedErr(venue, op string, err error) error {
	return &model.VenueError{Kind: model.ErrMarketData, Venue: venue, Op: op, Message: "malformed response", Err: err}
}
