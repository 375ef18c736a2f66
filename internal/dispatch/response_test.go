package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/nous-labs/walletd/pkg/wallet"
)

func TestZeroResponseDoesNotEncode(t *testing.T) {
	if _, err := json.Marshal(Response{}); err == nil {
		t.Fatal("zero response encoded")
	}
	if _, err := json.Marshal(Response{kind: KeyError}); err == nil {
		t.Fatal("error response without error encoded")
	}
}

func TestResponseDecode(t *testing.T) {
	cases := []Response{
		AddressResponse("tb1qxyz"),
		BalanceResponse(wallet.Balance{Confirmed: 5, Unconfirmed: 2}),
		ResultResponse(wallet.PaymentResult{TxID: "ab", To: "tb1q", Amount: 10}),
		ErrorResponse(CodePrecondition, "no wallet"),
	}
	for _, want := range cases {
		raw, err := json.Marshal(want)
		if err != nil {
			t.Fatal(err)
		}
		var got Response
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got.Kind() != want.Kind() {
			t.Errorf("%s: kind %q", raw, got.Kind())
		}
	}

	var r Response
	if err := json.Unmarshal([]byte(`{"address":"a","balance":{}}`), &r); err == nil {
		t.Fatal("two-key response accepted")
	}
	if err := json.Unmarshal([]byte(`{"surprise":1}`), &r); err == nil {
		t.Fatal("unknown key accepted")
	}
}
