// Package payment settles course orders. Each supported method sits
// behind the Method interface; a constructor table maps wire names to
// implementations, and methods that settle asynchronously also verify
// their provider's callback.
package payment

import (
	"context"
	"fmt"

	"github.com/mededge/pulse/fault"
)

// Statuses of a payment attempt.
const (
	StatusCompleted = "COMPLETED"
	StatusPending   = "PENDING"
)

// Result is the outcome of initiating a payment.
type Result struct {
	InstantSuccess bool   `json:"is_instant_success"`
	Status         string `json:"status"`
	PaymentURL     string `json:"payment_url,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Method initiates settlement of an order.
type Method interface {
	// Pay begins settling |amount| against the order, returning either
	// an instant success or a pending result with a provider URL.
	Pay(ctx context.Context, orderNo string, amount float64) (Result, error)
}

// Notification is a verified asynchronous provider callback.
type Notification struct {
	OrderNo       string
	TransactionID string
}

// CallbackHandler verifies a provider notification. Methods that settle
// instantly don't implement it.
type CallbackHandler interface {
	HandleCallback(data map[string]string) (Notification, error)
}

// Config carries provider credentials and endpoints.
type Config struct {
	AlipayGateway string `long:"alipay-gateway" env:"ALIPAY_GATEWAY" default:"https://openapi.alipay.com/gateway.do" description:"Alipay gateway URL"`
	AlipayAppID   string `long:"alipay-app-id" env:"ALIPAY_APP_ID" description:"Alipay application id"`
	WechatMchID   string `long:"wechat-mch-id" env:"WECHAT_MCH_ID" description:"WeChat Pay merchant id"`
}

// constructors maps wire method names to builders. "grain" is the
// in-app credit balance: it settles instantly, like "free".
var constructors = map[string]func(Config) Method{
	"free":   newFree,
	"grain":  newFree,
	"alipay": newAlipay,
	"wechat": newWechat,
}

// Table resolves wire method names to instantiated methods.
type Table struct {
	methods map[string]Method
}

// NewTable instantiates every registered method against |cfg|.
func NewTable(cfg Config) Table {
	var methods = make(map[string]Method, len(constructors))
	for name, build := range constructors {
		methods[name] = build(cfg)
	}
	return Table{methods: methods}
}

// Method resolves a wire name.
func (t Table) Method(name string) (Method, error) {
	var m, ok = t.methods[name]
	if !ok {
		return nil, fault.Business(400, fmt.Sprintf("unsupported payment method: %s", name))
	}
	return m, nil
}

// CallbackHandler resolves a wire name to its notification verifier.
func (t Table) CallbackHandler(name string) (CallbackHandler, error) {
	var m, err = t.Method(name)
	if err != nil {
		return nil, err
	}
	h, ok := m.(CallbackHandler)
	if !ok {
		return nil, fault.Business(400, fmt.Sprintf("payment method %s does not deliver notifications", name))
	}
	return h, nil
}
