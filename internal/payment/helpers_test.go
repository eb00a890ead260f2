package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/govalues/decimal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]Order
	saves  int
}

func newFakeOrders(orders ...Order) *fakeOrders {
	s := &fakeOrders{orders: make(map[string]Order)}
	for _, o := range orders {
		s.orders[o.ID] = o.Clone()
	}
	return s
}

func (s *fakeOrders) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *fakeOrders) Save(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return Order{}, ErrConcurrentUpdate
	}
	o.Version++
	s.orders[o.ID] = o.Clone()
	s.saves++
	return o.Clone(), nil
}

func (s *fakeOrders) get(t *testing.T, id string) Order {
	t.Helper()
	o, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

type fakeTokens struct {
	tokens map[string]Token
	saved  int
}

func (f *fakeTokens) GetToken(_ context.Context, customerID, provider string) (Token, error) {
	tok, ok := f.tokens[customerID+"/"+provider]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return tok, nil
}

func (f *fakeTokens) SaveToken(_ context.Context, customerID, provider string, tok Token) error {
	if f.tokens == nil {
		f.tokens = make(map[string]Token)
	}
	f.tokens[customerID+"/"+provider] = tok
	f.saved++
	return nil
}

type fakeEvents struct{ events []StatusEvent }

func (f *fakeEvents) PublishStatus(_ context.Context, evt StatusEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeReconciler struct{ scheduled []string }

func (f *fakeReconciler) ScheduleQuery(_ context.Context, provider, orderID string) error {
	f.scheduled = append(f.scheduled, provider+"/"+orderID)
	return nil
}

type fakeLocker struct{ keys []string }

func (f *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	f.keys = append(f.keys, key)
	return fn(ctx)
}

// fakeGateway returns canned responses and counts calls per operation.
type fakeGateway struct {
	caps         Capability
	responses    map[string]GatewayResponse
	notification Notification
	err          error
	calls        map[string]int
	requests     map[string]RequestData
}

func newFakeGateway(caps Capability) *fakeGateway {
	return &fakeGateway{
		caps:      caps,
		responses: make(map[string]GatewayResponse),
		calls:     make(map[string]int),
		requests:  make(map[string]RequestData),
	}
}

func (g *fakeGateway) on(op string, resp GatewayResponse) *fakeGateway {
	g.responses[op] = resp
	return g
}

func (g *fakeGateway) total() int {
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) do(op string, req RequestData) (GatewayResponse, error) {
	g.calls[op]++
	g.requests[op] = req
	if g.err != nil {
		return GatewayResponse{}, g.err
	}
	return g.responses[op], nil
}

func (g *fakeGateway) Capabilities() Capability { return g.caps }

func (g *fakeGateway) Authorize(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("authorize", r)
}

func (g *fakeGateway) Purchase(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("purchase", r)
}

func (g *fakeGateway) Capture(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("capture", r)
}

func (g *fakeGateway) Void(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("void", r)
}

func (g *fakeGateway) Refund(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("refund", r)
}

func (g *fakeGateway) CompleteAuthorize(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("completeAuthorize", r)
}

func (g *fakeGateway) CompletePurchase(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("completePurchase", r)
}

func (g *fakeGateway) GetTransaction(_ context.Context, r RequestData) (GatewayResponse, error) {
	return g.do("transaction", r)
}

func (g *fakeGateway) AcceptNotification(_ context.Context, _ NotificationRequest) (Notification, error) {
	g.calls["notification"]++
	if g.err != nil {
		return Notification{}, g.err
	}
	return g.notification, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.Parse(s)
	require.NoError(t, err)
	return d
}

func testOrder(t *testing.T, id string, status Status) Order {
	t.Helper()
	return Order{
		ID:         id,
		CustomerID: "cust-1",
		Status:     status,
		Price: Price{
			Value:    dec(t, "90.00"),
			Costs:    dec(t, "10.00"),
			Tax:      dec(t, "15.97"),
			Currency: "eur",
		},
		Addresses: []Address{{
			Type:       AddressTypePayment,
			FirstName:  "Ada",
			LastName:   "Lovelace",
			Address1:   "Main Street 1",
			PostalCode: "10115",
			City:       "Berlin",
			CountryID:  "de",
			LanguageID: "DE",
			Email:      "ada@example.com",
		}},
		Items: []LineItem{{
			ProductCode: "SKU-1",
			Name:        "Widget",
			Quantity:    2,
			Price:       dec(t, "45.00"),
			TaxRate:     dec(t, "19.00"),
		}},
		Services: []Service{{Type: ServiceTypePayment, Code: "dummy"}},
	}
}

func testConfig() Config {
	return Config{Code: "dummy", Type: "dummy"}
}

type fixture struct {
	orch    *Orchestrator
	gw      *fakeGateway
	orders  *fakeOrders
	tokens  *fakeTokens
	events  *fakeEvents
	recon   *fakeReconciler
	locker  *fakeLocker
	profile Provider
}

func newFixture(t *testing.T, cfg Config, profile Provider, caps Capability, orders ...Order) *fixture {
	t.Helper()
	f := &fixture{
		gw:      newFakeGateway(caps),
		orders:  newFakeOrders(orders...),
		tokens:  &fakeTokens{},
		events:  &fakeEvents{},
		recon:   &fakeReconciler{},
		locker:  &fakeLocker{},
		profile: profile,
	}
	f.orch = &Orchestrator{
		Config:     cfg,
		Provider:   profile,
		Client:     f.gw,
		Orders:     f.orders,
		Tokens:     f.tokens,
		Locker:     f.locker,
		Events:     f.events,
		Reconciler: f.recon,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	return f
}

func transactionRef(t *testing.T, o Order, cfg Config) string {
	t.Helper()
	svc, err := o.PaymentService()
	require.NoError(t, err)
	return svc.Attr(AttrTransaction, cfg.Namespace())
}

func withReference(t *testing.T, o Order, cfg Config, ref string) Order {
	t.Helper()
	svc, err := o.PaymentService()
	require.NoError(t, err)
	svc.SetAttr(AttrTransaction, ref, cfg.Namespace())
	return o
}
