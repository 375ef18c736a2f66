// Package dispatch turns classified requests into wallet operations
// against a shared session and encodes the results for the wire.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nous-labs/walletd/pkg/events"
	"github.com/nous-labs/walletd/pkg/intent"
	"github.com/nous-labs/walletd/pkg/rpc"
	"github.com/nous-labs/walletd/pkg/wallet"
)

// Command ids understood by the dispatcher.
const (
	CreateWallet     = "create-wallet"
	ShowBalance      = "show-balance"
	ListTransactions = "list-transactions"
	MakePayment      = "make-payment"
)

// MessageMethod is the RPC method carrying free-text requests.
const MessageMethod = "message"

// Config wires a Dispatcher.
type Config struct {
	Backend  wallet.Backend
	Resolver intent.Resolver
	Payment  wallet.PaymentParams
	Session  *Session    // a fresh session when nil
	Events   *events.Bus // optional
	Logger   *slog.Logger
}

// Dispatcher routes requests for one logical session.
type Dispatcher struct {
	backend  wallet.Backend
	resolver intent.Resolver
	payment  wallet.PaymentParams
	session  *Session
	events   *events.Bus
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		backend:  cfg.Backend,
		resolver: cfg.Resolver,
		payment:  cfg.Payment,
		session:  cfg.Session,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
	if d.session == nil {
		d.session = NewSession()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Session returns the dispatcher's session.
func (d *Dispatcher) Session() *Session { return d.session }

// Dispatch runs command id against session s. Failures, including
// backend panics, come back as error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, s *Session) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic", "command", id, "panic", r)
			resp = ErrorResponse(CodeInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch id {
	case CreateWallet:
		addr, err := d.backend.NewAddress(ctx)
		if err != nil {
			return backendError("create wallet", err)
		}
		s.SetAddress(addr)
		return AddressResponse(addr)

	case ShowBalance:
		addr, ok := s.Address()
		if !ok {
			return ErrorResponse(CodePrecondition, ErrNoAddress.Error())
		}
		bal, err := d.backend.Balance(ctx, addr)
		if err != nil {
			return backendError("show balance", err)
		}
		return BalanceResponse(bal)

	case ListTransactions:
		addr, ok := s.Address()
		if !ok {
			return ErrorResponse(CodePrecondition, ErrNoAddress.Error())
		}
		txs, err := d.backend.Transactions(ctx, addr)
		if err != nil {
			return backendError("list transactions", err)
		}
		return TransactionsResponse(txs)

	case MakePayment:
		res, err := d.backend.Send(ctx, d.payment)
		if err != nil {
			return backendError("make payment", err)
		}
		return ResultResponse(res)

	default:
		return ErrorResponse(CodeInternal, "unknown command: "+id)
	}
}

func backendError(op string, err error) Response {
	var de *Error
	if errors.As(err, &de) {
		return Response{kind: KeyError, Error: de}
	}
	return ErrorResponse(CodeInternal, fmt.Sprintf("%s: %v", op, err))
}

type scoredResolver interface {
	ClassifyScored(ctx context.Context, message string) (intent.Match, error)
}

// HandleText classifies text and dispatches it against the dispatcher's
// session. source names the ingress for logs and events.
func (d *Dispatcher) HandleText(ctx context.Context, source, text string) Response {
	reqID := rpc.RequestID(ctx)
	log := d.logger.With("source", source)
	if reqID != "" {
		log = log.With("request_id", reqID)
	}
	start := time.Now()

	var (
		id    string
		score float64
		err   error
	)
	if sr, ok := d.resolver.(scoredResolver); ok {
		var m intent.Match
		m, err = sr.ClassifyScored(ctx, text)
		id, score = m.ID, m.Score
	} else {
		id, err = d.resolver.Classify(ctx, text)
	}
	if err != nil {
		log.Warn("classify failed", "error", err)
		resp := ErrorResponse(CodeInternal, fmt.Sprintf("classify: %v", err))
		d.publish(reqID, source, "", 0, resp)
		return resp
	}
	log.Info("request classified", "command", id, "score", score)
	d.events.Publish(events.Event{
		Type: events.TypeRequest, RequestID: reqID, Source: source, Command: id, Score: score,
	})

	resp := d.Dispatch(ctx, id, d.session)
	if e := resp.Err(); e != nil {
		log.Warn("dispatch failed", "command", id, "code", e.Code, "error", e.Message)
	} else {
		log.Info("dispatch complete", "command", id, "result", resp.Kind(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	d.publish(reqID, source, id, score, resp)
	return resp
}

func (d *Dispatcher) publish(reqID, source, id string, score float64, resp Response) {
	e := events.Event{RequestID: reqID, Source: source, Command: id, Score: score}
	if de := resp.Err(); de != nil {
		e.Type, e.Code, e.Message = events.TypeError, de.Code, de.Message
	} else {
		e.Type, e.Message = events.TypeDispatch, resp.Kind()
	}
	d.events.Publish(e)
}

// HandleMessage decodes a {"message": ...} body, handles it and encodes
// the response. It always returns exactly one JSON document.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) []byte {
	var req Request
	var resp Response
	if err := json.Unmarshal(raw, &req); err != nil {
		resp = ErrorResponse(CodeBadRequest, fmt.Sprintf("malformed request: %v", err))
	} else if strings.TrimSpace(req.Message) == "" {
		resp = ErrorResponse(CodeBadRequest, "malformed request: message is empty")
	} else {
		resp = d.HandleText(ctx, "rpc", req.Message)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("encode response", "error", err)
		out, _ = json.Marshal(ErrorResponse(CodeInternal, "encode response: "+err.Error()))
	}
	return out
}

// Handler adapts HandleMessage to an RPC handler. Failures travel in the
// response body, so the handler itself never errors.
func (d *Dispatcher) Handler() rpc.Handler {
	return func(ctx context.Context, body []byte) ([]byte, error) {
		return d.HandleMessage(ctx, body), nil
	}
}
