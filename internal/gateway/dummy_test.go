package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payments/internal/payment"
)

func TestDummyCardOutcome(t *testing.T) {
	d := NewDummy("")
	ctx := context.Background()

	ok, err := d.Purchase(ctx, payment.RequestData{TransactionID: "ord-1", Card: &payment.Card{Number: "4242424242424242"}, CreateCard: true})
	require.NoError(t, err)
	require.True(t, ok.Successful())
	require.Equal(t, "ord-1", ok.TransactionID)
	require.NotEmpty(t, ok.TransactionReference)
	require.True(t, strings.HasPrefix(ok.CardReference, "tok_"))

	refused, err := d.Purchase(ctx, payment.RequestData{TransactionID: "ord-2", Card: &payment.Card{Number: "4000000000000001"}, CreateCard: true})
	require.NoError(t, err)
	require.False(t, refused.Successful())
	require.False(t, refused.Pending())
	require.NotEmpty(t, refused.TransactionReference)
	require.Empty(t, refused.CardReference)
}

func TestDummyHostedFlow(t *testing.T) {
	d := NewDummy("https://pay.example/hosted")
	ctx := context.Background()

	resp, err := d.Authorize(ctx, payment.RequestData{TransactionID: "ord-3"})
	require.NoError(t, err)
	require.True(t, resp.IsRedirect())
	require.Equal(t, "https://pay.example/hosted", resp.Redirect.URL)

	st, err := d.GetTransaction(ctx, payment.RequestData{TransactionID: "ord-3"})
	require.NoError(t, err)
	require.True(t, st.Pending())

	done, err := d.CompleteAuthorize(ctx, payment.RequestData{TransactionID: "ord-3"})
	require.NoError(t, err)
	require.True(t, done.Successful())
	require.Equal(t, resp.TransactionReference, done.TransactionReference)

	captured, err := d.Capture(ctx, payment.RequestData{TransactionID: "ord-3", TransactionReference: done.TransactionReference})
	require.NoError(t, err)
	require.True(t, captured.Successful())

	voided, err := d.Void(ctx, payment.RequestData{TransactionID: "ord-3", TransactionReference: done.TransactionReference})
	require.NoError(t, err)
	require.False(t, voided.Successful())
	require.Contains(t, voided.Message, "completed")
}

func TestDummyRebillWithToken(t *testing.T) {
	d := NewDummy("")
	resp, err := d.Purchase(context.Background(), payment.RequestData{TransactionID: "ord-4", CardReference: "tok_abc"})
	require.NoError(t, err)
	require.True(t, resp.Successful())
}

func TestDummyNotification(t *testing.T) {
	d := NewDummy("")
	n, err := d.AcceptNotification(context.Background(), payment.NotificationRequest{
		Body: []byte(`{"orderid":"ord-5","reference":"dmy_1","status":"completed"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "ord-5", n.TransactionID)
	require.Equal(t, "completed", n.TransactionStatus)

	st, err := d.GetTransaction(context.Background(), payment.RequestData{TransactionID: "ord-5"})
	require.NoError(t, err)
	require.True(t, st.Successful())

	_, err = d.AcceptNotification(context.Background(), payment.NotificationRequest{Body: []byte("not json")})
	require.Error(t, err)
}

func TestDummyNotificationSignature(t *testing.T) {
	d := NewDummy("")
	d.Signature = Signature{Secret: "s3cret"}
	body := []byte(`{"orderid":"ord-6","reference":"dmy_2","status":"completed"}`)
	ctx := context.Background()

	_, err := d.AcceptNotification(ctx, payment.NotificationRequest{Body: body})
	require.ErrorIs(t, err, ErrInvalidSignature)
	st, err := d.GetTransaction(ctx, payment.RequestData{TransactionID: "ord-6"})
	require.NoError(t, err)
	require.False(t, st.Successful())

	header := http.Header{}
	header.Set("X-Callback-Signature", d.Signature.Sign(body))
	n, err := d.AcceptNotification(ctx, payment.NotificationRequest{Header: header, Body: body})
	require.NoError(t, err)
	require.Equal(t, "completed", n.TransactionStatus)
}
