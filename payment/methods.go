package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// free settles zero-cost and in-app credit purchases on the spot.
type free struct{}

func newFree(Config) Method { return free{} }

func (free) Pay(_ context.Context, orderNo string, _ float64) (Result, error) {
	return Result{
		InstantSuccess: true,
		Status:         StatusCompleted,
		TransactionID:  "free-" + orderNo,
		Message:        "payment completed",
	}, nil
}

// alipay sends the buyer to the Alipay gateway and settles on its
// asynchronous trade notification.
type alipay struct {
	gateway string
	appID   string
}

func newAlipay(cfg Config) Method {
	return &alipay{gateway: cfg.AlipayGateway, appID: cfg.AlipayAppID}
}

func (a *alipay) Pay(_ context.Context, orderNo string, amount float64) (Result, error) {
	var params = url.Values{}
	params.Set("app_id", a.appID)
	params.Set("method", "alipay.trade.page.pay")
	params.Set("out_trade_no", orderNo)
	params.Set("total_amount", formatAmount(amount))
	params.Set("product_code", "FAST_INSTANT_TRADE_PAY")

	return Result{
		Status:     StatusPending,
		PaymentURL: a.gateway + "?" + params.Encode(),
		Message:    "complete the payment in Alipay",
	}, nil
}

// HandleCallback accepts settled trades only.
func (a *alipay) HandleCallback(data map[string]string) (Notification, error) {
	if data["trade_status"] != "TRADE_SUCCESS" {
		return Notification{}, fmt.Errorf("trade status %q is not a settlement", data["trade_status"])
	}
	var orderNo = data["out_trade_no"]
	if orderNo == "" {
		return Notification{}, fmt.Errorf("notification carries no order number")
	}
	return Notification{OrderNo: orderNo, TransactionID: data["trade_no"]}, nil
}

// wechat issues a native-pay code URL and settles on its asynchronous
// result notification.
type wechat struct {
	mchID string
}

func newWechat(cfg Config) Method {
	return &wechat{mchID: cfg.WechatMchID}
}

func (w *wechat) Pay(_ context.Context, orderNo string, amount float64) (Result, error) {
	return Result{
		Status:     StatusPending,
		PaymentURL: fmt.Sprintf("weixin://wxpay/bizpayurl?pr=%s&amt=%s", orderNo, formatAmount(amount)),
		Message:    "scan the code in WeChat to complete the payment",
	}, nil
}

func (w *wechat) HandleCallback(data map[string]string) (Notification, error) {
	if data["result_code"] != "SUCCESS" {
		return Notification{}, fmt.Errorf("result code %q is not a settlement", data["result_code"])
	}
	var orderNo = data["out_trade_no"]
	if orderNo == "" {
		return Notification{}, fmt.Errorf("notification carries no order number")
	}
	return Notification{OrderNo: orderNo, TransactionID: data["transaction_id"]}, nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
