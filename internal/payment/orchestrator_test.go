package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessPurchaseReceived(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1", TransactionID: "O1"})

	res, err := f.orch.Process(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Nil(t, res.Redirect)
	require.Equal(t, StatusReceived, res.Order.Status)

	stored := f.orders.get(t, "O1")
	require.Equal(t, StatusReceived, stored.Status)
	require.Equal(t, "T1", transactionRef(t, stored, cfg))
	require.Equal(t, 1, f.gw.calls["purchase"])
	require.Zero(t, f.gw.calls["authorize"])
	require.Equal(t, []string{"payment:order:O1"}, f.locker.keys)

	require.Len(t, f.events.events, 1)
	require.Equal(t, StatusUnfinished, f.events.events[0].From)
	require.Equal(t, StatusReceived, f.events.events[0].To)
	require.Equal(t, "T1", f.events.events[0].Transaction)
}

func TestProcessAuthorizeOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Authorize = true
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("authorize", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1"})

	res, err := f.orch.Process(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Order.Status)
	require.Equal(t, 1, f.gw.calls["authorize"])
	require.Zero(t, f.gw.calls["purchase"])
}

func TestProcessAuthorizeFallsBackToPurchaseWhenUnsupported(t *testing.T) {
	cfg := testConfig()
	cfg.Authorize = true
	f := newFixture(t, cfg, OmniPay(), CapAll&^CapAuthorize, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1"})

	res, err := f.orch.Process(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, res.Order.Status)
	require.Equal(t, 1, f.gw.calls["purchase"])
}

func TestProcessSuccessfulOutcomesIgnoreOtherFlags(t *testing.T) {
	flags := []ResponseFlags{
		FlagSuccessful,
		FlagSuccessful | FlagPending,
		FlagSuccessful | FlagCancelled,
		FlagSuccessful | FlagRedirect,
		FlagSuccessful | FlagPending | FlagCancelled | FlagRedirect,
	}
	for _, authorize := range []bool{false, true} {
		want := StatusReceived
		if authorize {
			want = StatusAuthorized
		}
		for _, fl := range flags {
			cfg := testConfig()
			cfg.Authorize = authorize
			f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
			f.gw.on("authorize", GatewayResponse{Flags: fl, TransactionReference: "T"})
			f.gw.on("purchase", GatewayResponse{Flags: fl, TransactionReference: "T"})

			res, err := f.orch.Process(context.Background(), "O1", nil)
			require.NoError(t, err)
			require.Equal(t, want, res.Order.Status, "flags %b authorize %v", fl, authorize)
		}
	}
}

func TestProcessRejectsPaidOrders(t *testing.T) {
	cfg := testConfig()
	for _, start := range []Status{StatusAuthorized, StatusReceived, StatusRefund} {
		o := withReference(t, testOrder(t, "O1", start), cfg, "T1")
		f := newFixture(t, cfg, OmniPay(), CapAll, o)
		f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T2"})
		f.gw.on("authorize", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T2"})

		res, err := f.orch.Process(context.Background(), "O1", nil)
		require.ErrorIs(t, err, ErrInvalidState, start)
		require.Equal(t, KindPrecondition, KindOf(err), start)
		require.Zero(t, f.gw.total(), start)
		require.Equal(t, start, res.Order.Status, start)
		stored := f.orders.get(t, "O1")
		require.Equal(t, start, stored.Status, start)
		require.Equal(t, "T1", transactionRef(t, stored, cfg), start)
	}
}

func TestProcessRedirectKeepsStatus(t *testing.T) {
	for _, start := range []Status{StatusUnfinished, StatusPending, StatusRefused} {
		cfg := testConfig()
		f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", start))
		f.gw.on("purchase", GatewayResponse{
			Flags:                FlagRedirect,
			TransactionReference: "T9",
			Redirect:             &Redirect{URL: "https://gw.example/pay", Method: http.MethodPost, Fields: []Field{{Name: "a", Value: "1"}}},
		})

		res, err := f.orch.Process(context.Background(), "O1", nil)
		require.NoError(t, err)
		require.NotNil(t, res.Redirect)
		require.Equal(t, "https://gw.example/pay", res.Redirect.URL)
		require.Equal(t, start, res.Order.Status)

		stored := f.orders.get(t, "O1")
		require.Equal(t, start, stored.Status)
		require.Equal(t, "T9", transactionRef(t, stored, cfg))
		require.Empty(t, f.events.events)
	}
}

func TestProcessRedirectWithoutTarget(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagRedirect})

	_, err := f.orch.Process(context.Background(), "O1", nil)
	require.Equal(t, KindGateway, KindOf(err))
	require.ErrorIs(t, err, ErrUnexpectedRedirect)
}

func TestProcessRefusedIsCommittedBeforeError(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{TransactionReference: "T1", Message: "card declined", Data: map[string]any{"code": "05"}})

	res, err := f.orch.Process(context.Background(), "O1", nil)
	require.Error(t, err)
	require.Equal(t, KindSettlement, KindOf(err))
	require.Contains(t, err.Error(), "card declined")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "05", perr.Raw["code"])

	require.Equal(t, StatusRefused, res.Order.Status)
	stored := f.orders.get(t, "O1")
	require.Equal(t, StatusRefused, stored.Status)
	require.Equal(t, "T1", transactionRef(t, stored, cfg))
}

func TestProcessGatewayFailureLeavesOrder(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.err = errors.New("connection reset")

	_, err := f.orch.Process(context.Background(), "O1", nil)
	require.Equal(t, KindGateway, KindOf(err))
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, StatusUnfinished, f.orders.get(t, "O1").Status)
	require.Zero(t, f.orders.saves)
}

func TestProcessReturnsFormWhenCardDataMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Onsite = true
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))

	res, err := f.orch.Process(context.Background(), "O1", map[string]string{ParamFirstName: "Ada", ParamNumber: "4111"})
	require.NoError(t, err)
	require.NotNil(t, res.Form)
	require.Zero(t, f.gw.total())
	require.Equal(t, StatusUnfinished, res.Order.Status)

	values := map[string]string{}
	for _, field := range res.Form.Fields {
		values[field.Code] = field.Value
	}
	require.Equal(t, "Ada", values[ParamFirstName])
	require.Empty(t, values[ParamNumber])
}

func TestProcessOnsiteSendsCard(t *testing.T) {
	cfg := testConfig()
	cfg.Onsite = true
	cfg.CreateToken = true
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1", CardReference: "tok_1", ExpiryMonth: 12, ExpiryYear: 2030})

	_, err := f.orch.Process(context.Background(), "O1", map[string]string{
		ParamNumber: "4242424242424242", ParamExpiryMonth: "12", ParamExpiryYear: "2030", ParamCVV: "123",
	})
	require.NoError(t, err)
	req := f.gw.requests["purchase"]
	require.NotNil(t, req.Card)
	require.Equal(t, "4242424242424242", req.Card.Number)
	require.True(t, req.CreateCard)

	tok, err := f.tokens.GetToken(context.Background(), "cust-1", "dummy")
	require.NoError(t, err)
	require.Equal(t, "tok_1", tok.Value)
	require.Equal(t, 2030, tok.ExpiryYear)
}

func TestProcessPendingSchedulesQuery(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagPending, TransactionReference: "T1"})

	res, err := f.orch.Process(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Order.Status)
	require.Equal(t, []string{"dummy/O1"}, f.recon.scheduled)
}

func TestProcessWithoutPaymentService(t *testing.T) {
	o := testOrder(t, "O1", StatusUnfinished)
	o.Services = nil
	f := newFixture(t, testConfig(), OmniPay(), CapAll, o)

	_, err := f.orch.Process(context.Background(), "O1", nil)
	require.Equal(t, KindPrecondition, KindOf(err))
	require.ErrorIs(t, err, ErrNoPaymentService)
	require.Zero(t, f.gw.total())
}

func TestUpdateSyncConfirmsWithStoredReference(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusUnfinished), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("completePurchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1", TransactionID: "O1", CardReference: "tok_9"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, "T1", f.gw.requests["completePurchase"].TransactionReference)
	require.Equal(t, 1, f.tokens.saved)
}

func TestUpdateSyncCompleteAuthorize(t *testing.T) {
	cfg := testConfig()
	cfg.Authorize = true
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("completeAuthorize", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1", TransactionID: "O1"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, got.Status)
	require.Zero(t, f.gw.calls["completePurchase"])
}

func TestUpdateSyncMisroutedIsIgnored(t *testing.T) {
	for _, echoed := range []string{"O99", ""} {
		f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O2", StatusUnfinished))
		f.gw.on("completePurchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1", TransactionID: echoed})

		got, err := f.orch.UpdateSync(context.Background(), "O2", nil)
		require.NoError(t, err)
		require.Equal(t, StatusUnfinished, got.Status)
		require.Zero(t, f.orders.saves)
		require.Empty(t, transactionRef(t, f.orders.get(t, "O2"), testConfig()))
	}
}

func TestUpdateSyncRedirectIsError(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusPending))
	f.gw.on("completePurchase", GatewayResponse{Flags: FlagRedirect, TransactionID: "O1", Redirect: &Redirect{URL: "https://gw.example"}})

	_, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.Equal(t, KindGateway, KindOf(err))
	require.ErrorIs(t, err, ErrUnexpectedRedirect)
	require.Equal(t, StatusPending, f.orders.get(t, "O1").Status)
}

func TestUpdateSyncAmbiguityQueriesOnce(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("completePurchase", GatewayResponse{TransactionID: "O1", TransactionReference: "T1"})
	f.gw.on("transaction", GatewayResponse{Flags: FlagSuccessful, TransactionID: "O1", TransactionReference: "T1"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, 1, f.gw.calls["transaction"])
}

func TestUpdateSyncAmbiguityWithoutQueryCommitsRefused(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, OmniPay(), CapAll&^CapQuery, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("completePurchase", GatewayResponse{TransactionID: "O1", TransactionReference: "T1", Message: "declined"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.Equal(t, KindSettlement, KindOf(err))
	require.Equal(t, StatusRefused, got.Status)
	require.Equal(t, StatusRefused, f.orders.get(t, "O1").Status)
	require.Zero(t, f.gw.calls["transaction"])
}

func TestUpdateSyncAmbiguityOnlyWhileUnfinished(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusPending), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("completePurchase", GatewayResponse{TransactionID: "O1"})

	_, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.Equal(t, KindSettlement, KindOf(err))
	require.Zero(t, f.gw.calls["transaction"])
}

func TestUpdateSyncWithoutAnyReferenceIsIncomplete(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll&^CapQuery, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("completePurchase", GatewayResponse{TransactionID: "O1", Data: map[string]any{"raw": "?"}})

	_, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.Equal(t, KindIncomplete, KindOf(err))
	require.Equal(t, StatusUnfinished, f.orders.get(t, "O1").Status)
}

func TestUpdateSyncCanceledCommitsWithoutError(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("completePurchase", GatewayResponse{Flags: FlagCancelled, TransactionID: "O1", TransactionReference: "T1", CardReference: "tok_x"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, got.Status)
	require.Zero(t, f.tokens.saved)
}

func TestUpdateSyncNoCompletionCapability(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll&^(CapCompletePurchase|CapCompleteAuthorize), testOrder(t, "O1", StatusPending))

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Zero(t, f.gw.total())
	require.Empty(t, f.locker.keys)
}

func TestUpdateSyncSettledConflict(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusReceived), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("completePurchase", GatewayResponse{Flags: FlagCancelled, TransactionID: "O1", TransactionReference: "T9"})

	got, err := f.orch.UpdateSync(context.Background(), "O1", nil)
	require.Equal(t, KindConflict, KindOf(err))
	require.ErrorIs(t, err, ErrSettledConflict)
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, "T1", transactionRef(t, got, cfg))
	stored := f.orders.get(t, "O1")
	require.Equal(t, StatusReceived, stored.Status)
	require.Equal(t, "T1", transactionRef(t, stored, cfg))
}

func TestUpdatePushIsIdempotent(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, Payone(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.notification = Notification{TransactionReference: "T7", TransactionID: "O1", TransactionStatus: "paid"}
	req := NotificationRequest{OrderID: "O1", Body: []byte("txaction=paid")}

	first, err := f.orch.UpdatePush(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Handled)
	require.Equal(t, "TSOK", first.Body)
	afterFirst := f.orders.get(t, "O1")

	second, err := f.orch.UpdatePush(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	afterSecond := f.orders.get(t, "O1")

	require.Equal(t, StatusReceived, afterSecond.Status)
	require.Equal(t, afterFirst.Status, afterSecond.Status)
	require.Equal(t, "T7", transactionRef(t, afterSecond, cfg))
	require.Equal(t, transactionRef(t, afterFirst, cfg), transactionRef(t, afterSecond, cfg))
	require.Equal(t, 1, f.orders.saves)
	require.Len(t, f.events.events, 1)
}

func TestUpdatePushWithoutNotificationCapability(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll&^CapAcceptNotification, testOrder(t, "O1", StatusUnfinished))

	ack, err := f.orch.UpdatePush(context.Background(), NotificationRequest{OrderID: "O1"})
	require.NoError(t, err)
	require.False(t, ack.Handled)
	require.Equal(t, http.StatusOK, ack.StatusCode)
	require.Zero(t, f.gw.total())
}

func TestUpdatePushRequiresOrderID(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll)

	ack, err := f.orch.UpdatePush(context.Background(), NotificationRequest{})
	require.ErrorIs(t, err, ErrNoOrderID)
	require.Equal(t, http.StatusInternalServerError, ack.StatusCode)
}

func TestUpdatePushUnknownCodeKeepsStatus(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusPending))
	f.gw.notification = Notification{TransactionReference: "T1", TransactionStatus: "mystery"}

	ack, err := f.orch.UpdatePush(context.Background(), NotificationRequest{OrderID: "O1"})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	stored := f.orders.get(t, "O1")
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, "T1", transactionRef(t, stored, cfg))
}

func TestUpdatePushMisrouted(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusPending))
	f.gw.notification = Notification{TransactionReference: "T1", TransactionID: "O2", TransactionStatus: "completed"}

	ack, err := f.orch.UpdatePush(context.Background(), NotificationRequest{OrderID: "O1"})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	require.Equal(t, StatusPending, f.orders.get(t, "O1").Status)
	require.Zero(t, f.orders.saves)
}

func TestUpdatePushStaleSignalIgnored(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusReceived))
	f.gw.notification = Notification{TransactionStatus: "pending"}

	_, err := f.orch.UpdatePush(context.Background(), NotificationRequest{OrderID: "O1"})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, f.orders.get(t, "O1").Status)
}

func TestUpdatePushUnknownOrder(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll)

	ack, err := f.orch.UpdatePush(context.Background(), NotificationRequest{OrderID: "nope"})
	require.ErrorIs(t, err, ErrOrderNotFound)
	require.Equal(t, http.StatusInternalServerError, ack.StatusCode)
}

func TestQuery(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusPending), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("transaction", GatewayResponse{Flags: FlagSuccessful, TransactionID: "O1", TransactionReference: "T1"})

	got, err := f.orch.Query(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, "T1", f.gw.requests["transaction"].TransactionReference)
}

func TestQueryUnsupported(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll&^CapQuery, testOrder(t, "O1", StatusPending))

	_, err := f.orch.Query(context.Background(), "O1")
	require.Equal(t, KindPrecondition, KindOf(err))
	require.ErrorIs(t, err, ErrUnsupported)
	require.Zero(t, f.gw.total())
}

func TestQueryRedirectLeavesStatus(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusPending))
	f.gw.on("transaction", GatewayResponse{Flags: FlagRedirect, TransactionID: "O1"})

	got, err := f.orch.Query(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestFollowUpsUnsupportedAreNoOps(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusAuthorized), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapQuery, o)
	ctx := context.Background()

	for name, call := range map[string]func() (Order, error){
		"capture": func() (Order, error) { return f.orch.Capture(ctx, "O1") },
		"void":    func() (Order, error) { return f.orch.Void(ctx, "O1") },
		"refund":  func() (Order, error) { return f.orch.Refund(ctx, "O1", nil) },
	} {
		got, err := call()
		require.NoError(t, err, name)
		require.Equal(t, StatusAuthorized, got.Status, name)
		require.Equal(t, "T1", transactionRef(t, got, cfg), name)
	}
	require.Zero(t, f.gw.total())
	require.Zero(t, f.orders.saves)
}

func TestCaptureAndVoid(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusAuthorized), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("capture", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T2"})

	got, err := f.orch.Capture(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, "T1", f.gw.requests["capture"].TransactionReference)
	require.Equal(t, "T2", transactionRef(t, got, cfg))

	f.gw.on("void", GatewayResponse{Flags: FlagSuccessful})
	_, err = f.orch.Void(context.Background(), "O1")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, KindPrecondition, KindOf(err))
	require.Zero(t, f.gw.calls["void"])
	require.Equal(t, StatusReceived, f.orders.get(t, "O1").Status)
}

func TestVoidCancelsAuthorization(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusAuthorized), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("void", GatewayResponse{Flags: FlagSuccessful})

	got, err := f.orch.Void(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, got.Status)
	require.Equal(t, "T1", f.gw.requests["void"].TransactionReference)
}

func TestFollowUpsRequireMatchingStatus(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()
	cases := []struct {
		name   string
		status Status
		call   func(*Orchestrator) (Order, error)
	}{
		{"capture unfinished", StatusUnfinished, func(o *Orchestrator) (Order, error) { return o.Capture(ctx, "O1") }},
		{"capture received", StatusReceived, func(o *Orchestrator) (Order, error) { return o.Capture(ctx, "O1") }},
		{"void refused", StatusRefused, func(o *Orchestrator) (Order, error) { return o.Void(ctx, "O1") }},
		{"void refunded", StatusRefund, func(o *Orchestrator) (Order, error) { return o.Void(ctx, "O1") }},
		{"refund unfinished", StatusUnfinished, func(o *Orchestrator) (Order, error) { return o.Refund(ctx, "O1", nil) }},
		{"refund pending", StatusPending, func(o *Orchestrator) (Order, error) { return o.Refund(ctx, "O1", nil) }},
		{"refund canceled", StatusCanceled, func(o *Orchestrator) (Order, error) { return o.Refund(ctx, "O1", nil) }},
		{"refund refunded", StatusRefund, func(o *Orchestrator) (Order, error) { return o.Refund(ctx, "O1", nil) }},
	}
	for _, tc := range cases {
		o := withReference(t, testOrder(t, "O1", tc.status), cfg, "T1")
		f := newFixture(t, cfg, OmniPay(), CapAll, o)
		f.gw.on("capture", GatewayResponse{Flags: FlagSuccessful})
		f.gw.on("void", GatewayResponse{Flags: FlagSuccessful})
		f.gw.on("refund", GatewayResponse{Flags: FlagSuccessful})

		_, err := tc.call(f.orch)
		require.ErrorIs(t, err, ErrInvalidState, tc.name)
		require.Equal(t, KindPrecondition, KindOf(err), tc.name)
		require.Zero(t, f.gw.total(), tc.name)
		require.Zero(t, f.orders.saves, tc.name)
		stored := f.orders.get(t, "O1")
		require.Equal(t, tc.status, stored.Status, tc.name)
		require.Empty(t, stored.Refunds, tc.name)
	}
}

func TestRefundAuthorizedOrder(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusAuthorized), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("refund", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "R1"})

	got, err := f.orch.Refund(context.Background(), "O1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusRefund, got.Status)
	require.Len(t, got.Refunds, 1)
}

func TestCaptureRequiresReference(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusAuthorized))

	_, err := f.orch.Capture(context.Background(), "O1")
	require.ErrorIs(t, err, ErrNoTransactionReference)
	require.Zero(t, f.gw.total())
}

func TestCaptureRefusedLeavesOrder(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O1", StatusAuthorized), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("capture", GatewayResponse{Message: "expired authorization"})

	_, err := f.orch.Capture(context.Background(), "O1")
	require.Equal(t, KindSettlement, KindOf(err))
	require.Contains(t, err.Error(), "expired authorization")
	require.Equal(t, StatusAuthorized, f.orders.get(t, "O1").Status)
}

func TestRefundPartialThenFull(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O3", StatusReceived), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("refund", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "R1"})
	ctx := context.Background()

	half := dec(t, "50.00")
	got, err := f.orch.Refund(ctx, "O3", &half)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)
	require.Len(t, got.Refunds, 1)
	require.Equal(t, "50.00", f.gw.requests["refund"].Amount)
	require.Equal(t, "T1", f.gw.requests["refund"].TransactionReference)

	got, err = f.orch.Refund(ctx, "O3", nil)
	require.NoError(t, err)
	require.Equal(t, StatusRefund, got.Status)
	require.Len(t, got.Refunds, 2)
	require.True(t, got.Outstanding().IsZero())
	require.Equal(t, "50.00", f.gw.requests["refund"].Amount)
}

func TestRefundRejectsInvalidAmounts(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O3", StatusReceived), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)

	for _, raw := range []string{"0", "-1", "100.01"} {
		amount := dec(t, raw)
		_, err := f.orch.Refund(context.Background(), "O3", &amount)
		require.ErrorIs(t, err, ErrInvalidAmount, raw)
		require.Equal(t, KindPrecondition, KindOf(err), raw)
	}
	require.Zero(t, f.gw.total())
}

func TestRefundRefusedKeepsLedger(t *testing.T) {
	cfg := testConfig()
	o := withReference(t, testOrder(t, "O3", StatusReceived), cfg, "T1")
	f := newFixture(t, cfg, OmniPay(), CapAll, o)
	f.gw.on("refund", GatewayResponse{Message: "insufficient balance"})

	_, err := f.orch.Refund(context.Background(), "O3", nil)
	require.Equal(t, KindSettlement, KindOf(err))
	require.Empty(t, f.orders.get(t, "O3").Refunds)
}

func TestRepayWithoutCustomer(t *testing.T) {
	o := testOrder(t, "O1", StatusRefused)
	o.CustomerID = ""
	f := newFixture(t, testConfig(), OmniPay(), CapAll, o)

	_, err := f.orch.Repay(context.Background(), "O1")
	require.Equal(t, KindPrecondition, KindOf(err))
	require.ErrorIs(t, err, ErrNoCustomer)
	require.Zero(t, f.gw.total())
}

func TestRepayWithoutStoredData(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusRefused))

	_, err := f.orch.Repay(context.Background(), "O1")
	require.Equal(t, KindPrecondition, KindOf(err))
	require.ErrorIs(t, err, ErrTokenNotFound)
	require.Zero(t, f.gw.total())
}

func TestRepayWithEmptyToken(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusRefused))
	f.tokens.tokens = map[string]Token{"cust-1/dummy": {ExpiryMonth: 1, ExpiryYear: 2030}}

	_, err := f.orch.Repay(context.Background(), "O1")
	require.Equal(t, KindPrecondition, KindOf(err))
	require.ErrorIs(t, err, ErrTokenEmpty)
	require.Zero(t, f.gw.calls["purchase"])
}

func TestRepayWithoutRebillSupport(t *testing.T) {
	profile := OmniPay()
	profile.Rebill = false
	f := newFixture(t, testConfig(), profile, CapAll, testOrder(t, "O1", StatusRefused))

	_, err := f.orch.Repay(context.Background(), "O1")
	require.ErrorIs(t, err, ErrUnsupported)
	require.Zero(t, f.gw.total())
}

func TestRepayOutcomes(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()
	token := map[string]Token{"cust-1/dummy": {Value: "tok_1", ExpiryMonth: 12, ExpiryYear: 2030}}

	t.Run("received", func(t *testing.T) {
		f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusRefused))
		f.tokens.tokens = token
		f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T5"})

		got, err := f.orch.Repay(ctx, "O1")
		require.NoError(t, err)
		require.Equal(t, StatusReceived, got.Status)
		require.Equal(t, "T5", transactionRef(t, got, cfg))
		req := f.gw.requests["purchase"]
		require.Equal(t, "tok_1", req.CardReference)
		require.Equal(t, 12, req.Card.ExpiryMonth)
	})

	t.Run("pending", func(t *testing.T) {
		f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusRefused))
		f.tokens.tokens = token
		f.gw.on("purchase", GatewayResponse{Flags: FlagPending, TransactionReference: "T5"})

		got, err := f.orch.Repay(ctx, "O1")
		require.NoError(t, err)
		require.Equal(t, StatusPending, got.Status)
		require.Equal(t, []string{"dummy/O1"}, f.recon.scheduled)
	})

	t.Run("incomplete", func(t *testing.T) {
		f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusRefused))
		f.tokens.tokens = token
		f.gw.on("purchase", GatewayResponse{Data: map[string]any{"raw": true}})

		_, err := f.orch.Repay(ctx, "O1")
		require.Equal(t, KindIncomplete, KindOf(err))
		require.Zero(t, f.orders.saves)
	})

	t.Run("failed", func(t *testing.T) {
		f := newFixture(t, cfg, OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
		f.tokens.tokens = token
		f.gw.on("purchase", GatewayResponse{TransactionReference: "T6", Message: "do not honor"})

		got, err := f.orch.Repay(ctx, "O1")
		require.Equal(t, KindSettlement, KindOf(err))
		require.Contains(t, err.Error(), "do not honor")
		require.Equal(t, StatusRefused, got.Status)
		require.Equal(t, StatusRefused, f.orders.get(t, "O1").Status)
	})
}

func TestRunReportsConcurrentUpdate(t *testing.T) {
	f := newFixture(t, testConfig(), OmniPay(), CapAll, testOrder(t, "O1", StatusUnfinished))
	f.gw.on("purchase", GatewayResponse{Flags: FlagSuccessful, TransactionReference: "T1"})
	f.orch.Orders = &bumpingStore{fakeOrders: f.orders}

	_, err := f.orch.Process(context.Background(), "O1", nil)
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

// bumpingStore simulates another writer between load and save.
type bumpingStore struct{ *fakeOrders }

func (s *bumpingStore) Save(ctx context.Context, o Order) (Order, error) {
	o.Version--
	return s.fakeOrders.Save(ctx, o)
}
