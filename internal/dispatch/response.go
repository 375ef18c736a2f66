package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/nous-labs/walletd/pkg/wallet"
)

// Request is the body of a "message" call.
type Request struct {
	Message string `json:"message"`
}

// Response keys. Exactly one appears in every encoded response.
const (
	KeyAddress      = "address"
	KeyBalance      = "balance"
	KeyTransactions = "transactions"
	KeyResult       = "result"
	KeyError        = "error"
)

// Response is the reply to a "message" call: one of an address, a
// balance, a transaction list, a payment result or an error. Build it
// with the constructors; the zero value does not encode.
type Response struct {
	kind string

	Address      string
	Balance      wallet.Balance
	Transactions []wallet.Transaction
	Result       wallet.PaymentResult
	Error        *Error
}

func AddressResponse(a string) Response { return Response{kind: KeyAddress, Address: a} }

func BalanceResponse(b wallet.Balance) Response { return Response{kind: KeyBalance, Balance: b} }

func TransactionsResponse(txs []wallet.Transaction) Response {
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	return Response{kind: KeyTransactions, Transactions: txs}
}

func ResultResponse(r wallet.PaymentResult) Response { return Response{kind: KeyResult, Result: r} }

func ErrorResponse(code int, message string) Response {
	return Response{kind: KeyError, Error: &Error{Message: message, Code: code}}
}

// Kind returns the populated key.
func (r Response) Kind() string { return r.kind }

// Err returns the structured error, or nil for a successful response.
func (r Response) Err() *Error {
	if r.kind == KeyError {
		return r.Error
	}
	return nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	var v any
	switch r.kind {
	case KeyAddress:
		v = r.Address
	case KeyBalance:
		v = r.Balance
	case KeyTransactions:
		v = r.Transactions
	case KeyResult:
		v = r.Result
	case KeyError:
		if r.Error == nil {
			return nil, fmt.Errorf("error response without error")
		}
		v = r.Error
	default:
		return nil, fmt.Errorf("response has no populated variant")
	}
	return json.Marshal(map[string]any{r.kind: v})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("response must have exactly one key, got %d", len(m))
	}
	for k, raw := range m {
		var out Response
		out.kind = k
		var err error
		switch k {
		case KeyAddress:
			err = json.Unmarshal(raw, &out.Address)
		case KeyBalance:
			err = json.Unmarshal(raw, &out.Balance)
		case KeyTransactions:
			err = json.Unmarshal(raw, &out.Transactions)
		case KeyResult:
			err = json.Unmarshal(raw, &out.Result)
		case KeyError:
			out.Error = &Error{}
			err = json.Unmarshal(raw, out.Error)
		default:
			return fmt.Errorf("unknown response key %q", k)
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		*r = out
	}
	return nil
}
