package provider

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"digital-goods-marketplace/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCard_VerifyAndExtract(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	p := &card{webhookSecret: "whsec_test", now: func() time.Time { return now }}
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid","payment_intent":"pi_1","metadata":{"order_ids":"o1, o2"}}}}`)

	ts := strconv.FormatInt(now.Unix(), 10)
	sig := signHex(sha256.New, "whsec_test", []byte(ts+"."+string(body)))

	headers := http.Header{}
	headers.Set(cardSignatureHeader, "t="+ts+",v1=deadbeef,v1="+sig)
	assert.True(t, p.VerifySignature(body, headers))

	conf, err := p.ExtractConfirmation(body)
	require.NoError(t, err)
	assert.True(t, conf.Final)
	assert.Equal(t, []string{"o1", "o2"}, conf.OrderIDs)
	assert.Equal(t, "pi_1", conf.ExternalReference)
	assert.Equal(t, "evt_1", conf.EventID)
}

func TestCard_RejectsBadSignatures(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	p := &card{webhookSecret: "whsec_test", now: func() time.Time { return now }}
	body := []byte(`{"id":"evt_1"}`)

	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	staleSig := signHex(sha256.New, "whsec_test", []byte(stale+"."+string(body)))

	tests := map[string]string{
		"missing header": "",
		"no timestamp":   "v1=" + staleSig,
		"stale":          "t=" + stale + ",v1=" + staleSig,
		"wrong secret":   "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=" + signHex(sha256.New, "other", body),
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			h := http.Header{}
			if header != "" {
				h.Set(cardSignatureHeader, header)
			}
			assert.False(t, p.VerifySignature(body, h))
		})
	}

	assert.False(t, (&card{now: time.Now}).VerifySignature(body, http.Header{}), "no secret configured")
}

func TestCard_UnpaidSessionIsNotFinal(t *testing.T) {
	p := NewCard("secret")
	conf, err := p.ExtractConfirmation([]byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_2","payment_status":"unpaid","metadata":{}}}}`))
	require.NoError(t, err)
	assert.False(t, conf.Final)
}

func TestQR_VerifyAndExtract(t *testing.T) {
	p := NewQR("qr-secret", nil)
	body := []byte(`{"id":"evt_9","event":"payment.completed","data":{"id":"qr_123","reference":"bank-ref"}}`)

	h := http.Header{}
	h.Set(qrSignatureHeader, strings.ToUpper(signHex(sha256.New, "qr-secret", body)))
	assert.True(t, p.VerifySignature(body, h))

	h.Set(qrSignatureHeader, signHex(sha256.New, "qr-secret", []byte("tampered")))
	assert.False(t, p.VerifySignature(body, h))

	conf, err := p.ExtractConfirmation(body)
	require.NoError(t, err)
	assert.True(t, conf.Final)
	assert.Equal(t, "qr_123", conf.ExternalPaymentID)
	assert.Equal(t, "bank-ref", conf.ExternalReference)
	assert.Empty(t, conf.OrderIDs)
}

type fakeQRAPI struct {
	status string
	err    error
}

func (f *fakeQRAPI) PaymentStatus(context.Context, string) (string, string, error) {
	return f.status, "ref-1", f.err
}

func TestQR_Poll(t *testing.T) {
	target := PollTarget{PaymentID: "p1", ExternalPaymentID: "qr_1"}

	res, err := NewQR("s", &fakeQRAPI{status: "PAID"}).(Poller).Poll(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, PollConfirmed, res.State)
	assert.Equal(t, "ref-1", res.ExternalReference)

	res, err = NewQR("s", &fakeQRAPI{status: "EXPIRED"}).(Poller).Poll(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, PollExpired, res.State)

	_, err = NewQR("s", &fakeQRAPI{err: errors.New("timeout")}).(Poller).Poll(context.Background(), target)
	assert.Error(t, err)
}

func cryptoSign(unsigned, key string) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString([]byte(unsigned)) + key))
	return hex.EncodeToString(sum[:])
}

func TestCryptoInvoice_VerifyAndExtract(t *testing.T) {
	p := NewCryptoInvoice("pay-key")
	unsigned := `{"type":"payment","uuid":"inv-1","order_id":"pay-1","status":"paid","is_final":true,"txid":"0xabc","additional_data":"{\"order_ids\":[\"o1\",\"o2\"]}"}`
	signed := unsigned[:len(unsigned)-1] + `,"sign":"` + cryptoSign(unsigned, "pay-key") + `"}`

	assert.True(t, p.VerifySignature([]byte(signed), nil))

	conf, err := p.ExtractConfirmation([]byte(signed))
	require.NoError(t, err)
	assert.True(t, conf.Final)
	assert.Equal(t, []string{"o1", "o2"}, conf.OrderIDs)
	assert.Equal(t, "0xabc", conf.ExternalReference)
}

func TestCryptoInvoice_RejectsUnsignedOrTampered(t *testing.T) {
	p := NewCryptoInvoice("pay-key")
	unsigned := `{"uuid":"inv-1","status":"paid","is_final":true}`

	assert.False(t, p.VerifySignature([]byte(unsigned), nil))

	tampered := `{"uuid":"inv-1","status":"paid_over","is_final":true,"sign":"` + cryptoSign(unsigned, "pay-key") + `"}`
	assert.False(t, p.VerifySignature([]byte(tampered), nil))

	assert.False(t, NewCryptoInvoice("").VerifySignature([]byte(tampered), nil))
}

func TestCryptoInvoice_NonFinalStatus(t *testing.T) {
	p := NewCryptoInvoice("k")

	conf, err := p.ExtractConfirmation([]byte(`{"uuid":"inv-2","status":"paid","is_final":false,"additional_data":"{\"order_ids\":[\"o1\"]}"}`))
	require.NoError(t, err)
	assert.False(t, conf.Final)

	conf, err = p.ExtractConfirmation([]byte(`{"uuid":"inv-3","status":"confirm_check","is_final":true}`))
	require.NoError(t, err)
	assert.False(t, conf.Final)
}

func TestPeer_VerifyAndExtract(t *testing.T) {
	p := NewPeer("peer-secret")
	body := []byte(`{"bizType":"PAY","bizIdStr":"29383937493038367292","bizStatus":"PAY_SUCCESS","data":"{\"merchantTradeNo\":\"pay-1\",\"transactionId\":\"M_R_1\"}"}`)

	h := http.Header{}
	h.Set(peerTimestampHeader, "1760000000000")
	h.Set(peerNonceHeader, "nonce123")
	h.Set(peerSignatureHeader, strings.ToUpper(signHex(sha512.New, "peer-secret", []byte("1760000000000\nnonce123\n"+string(body)+"\n"))))
	assert.True(t, p.VerifySignature(body, h))

	h.Set(peerNonceHeader, "other")
	assert.False(t, p.VerifySignature(body, h))

	h.Del(peerNonceHeader)
	assert.False(t, p.VerifySignature(body, h))

	conf, err := p.ExtractConfirmation(body)
	require.NoError(t, err)
	assert.True(t, conf.Final)
	assert.Equal(t, "pay-1", conf.ExternalPaymentID)
	assert.Equal(t, "M_R_1", conf.ExternalReference)
}

type fakeDeposits struct {
	deposits []Deposit
	err      error
}

func (f *fakeDeposits) ListDeposits(context.Context, string, time.Time) ([]Deposit, error) {
	return f.deposits, f.err
}

func TestDirectDeposit_Poll(t *testing.T) {
	target := PollTarget{
		PaymentID: "p1",
		Details:   model.PaymentDetails{MemoCode: "MEMO42", ExpectedAmount: "25.00", Coin: "USDT"},
	}

	tests := []struct {
		name     string
		deposits []Deposit
		want     PollState
	}{
		{name: "no deposits", want: PollPending},
		{name: "wrong amount", deposits: []Deposit{{Amount: "24.99", Coin: "USDT", Memo: "MEMO42", Successful: true}}, want: PollPending},
		{name: "wrong memo", deposits: []Deposit{{Amount: "25", Coin: "USDT", Memo: "OTHER", Successful: true}}, want: PollPending},
		{name: "not yet credited", deposits: []Deposit{{Amount: "25", Coin: "USDT", Memo: "MEMO42"}}, want: PollPending},
		{name: "exact match", deposits: []Deposit{{Amount: "25.00000000", Coin: "usdt", Memo: "MEMO42", TxID: "tx1", Successful: true}}, want: PollConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDirectDeposit(&fakeDeposits{deposits: tt.deposits}).(Poller)
			res, err := p.Poll(context.Background(), target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.State)
		})
	}
}

func TestDirectDeposit_NeverAcceptsWebhooks(t *testing.T) {
	p := NewDirectDeposit(&fakeDeposits{})
	assert.False(t, p.VerifySignature([]byte(`{}`), http.Header{}))
	_, err := p.ExtractConfirmation([]byte(`{}`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCard("s"))
	r.Register(NewDirectDeposit(&fakeDeposits{}))

	_, err := r.Get(NameCard)
	assert.NoError(t, err)

	_, err = r.Get("paypal")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Poller(NameDeposit)
	assert.NoError(t, err)

	_, err = r.Poller(NameCard)
	assert.ErrorIs(t, err, ErrNotPollable)
}
