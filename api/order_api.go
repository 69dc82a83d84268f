package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/fault"
)

// idempotencyHeader carries the client-chosen key deduplicating order
// submissions.
const idempotencyHeader = "Idempotency-Key"

type createOrderRequest struct {
	CourseID      int64   `json:"course_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"min=0"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
	UseGrain      bool    `json:"use_grain"`
}

type orderView struct {
	UserID     int64   `json:"user_id"`
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	CourseID   int64   `json:"course_id"`
	Amount     float64 `json:"amount"`
	PaymentURL string  `json:"payment_url,omitempty"`
}

func (s *Server) serveCreateOrder(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createOrderRequest
	if err = s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var clientIP = behavior.MetaFromRequest(r).IPAddress

	// The gated unit of work serializes the whole success envelope, so
	// a replay is byte-identical to the first response.
	var run = func(ctx context.Context) ([]byte, error) {
		var view, err = s.createOrder(ctx, userID, req, clientIP)
		if err != nil {
			return nil, err
		}
		return json.Marshal(Envelope{Code: 200, Message: "success", Data: view})
	}

	var payload []byte
	if key := r.Header.Get(idempotencyHeader); key == "" {
		// Deduplication is opt-in: a keyless request runs unguarded.
		log.WithField("path", r.URL.Path).Debug("order create without idempotency key")
		payload, err = run(r.Context())
	} else {
		payload, _, err = s.gate.Execute(r.Context(), key, run)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// createOrder runs the order business: validate the course, persist
// the order, and dispatch its payment method.
func (s *Server) createOrder(ctx context.Context, userID int64, req createOrderRequest, clientIP string) (*orderView, error) {
	var course, err = s.courses.CourseByID(ctx, req.CourseID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fault.NotFound("course not found")
	} else if err != nil {
		return nil, err
	}
	if !course.Active() {
		return nil, fault.Business(400, "this course is not available for purchase")
	}

	var methodName = req.PaymentMethod
	if req.UseGrain {
		methodName = "grain"
	}
	method, err := s.payments.Method(methodName)
	if err != nil {
		return nil, err
	}

	var order = &catalog.Order{
		OrderNo:       uuid.NewString(),
		UserID:        userID,
		CourseID:      req.CourseID,
		OriginalPrice: course.Price,
		RealPrice:     req.Amount,
		PaymentMethod: methodName,
		Status:        catalog.OrderPendingPayment,
		ClientIP:      clientIP,
	}
	if err = s.orders.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	result, err := method.Pay(ctx, order.OrderNo, req.Amount)
	if err != nil {
		return nil, err
	}

	var status = catalog.OrderPendingPayment
	if result.InstantSuccess {
		if err = s.orders.MarkOrderPaid(ctx, order.OrderNo, result.TransactionID); err != nil {
			return nil, err
		}
		status = catalog.OrderCompleted
	}

	ordersCreated.WithLabelValues(methodName).Inc()
	return &orderView{
		UserID:     userID,
		OrderID:    order.OrderNo,
		Status:     status,
		CourseID:   req.CourseID,
		Amount:     req.Amount,
		PaymentURL: result.PaymentURL,
	}, nil
}

func (s *Server) serveOrderNotify(w http.ResponseWriter, r *http.Request) {
	var methodName = mux.Vars(r)["payment_method"]
	var handler, err = s.payments.CallbackHandler(methodName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := notificationData(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	note, err := handler.HandleCallback(data)
	if err != nil {
		log.WithFields(log.Fields{"method": methodName, "err": err}).
			Warn("rejecting payment notification")
		writeError(w, r, fault.Business(400, "notification verification failed"))
		return
	}

	// MarkOrderPaid is a no-op for an already-settled order, so
	// provider redeliveries are safe.
	if err = s.orders.MarkOrderPaid(r.Context(), note.OrderNo, note.TransactionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "success")
}

// notificationData flattens a provider notification body, which
// arrives form-encoded (Alipay) or as a flat JSON object (the WeChat
// bridge).
func notificationData(r *http.Request) (map[string]string, error) {
	var data = make(map[string]string)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fault.Validation(fmt.Sprintf("malformed notification body: %v", err))
		}
		for k, v := range body {
			data[k] = fmt.Sprint(v)
		}
		return data, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fault.Validation(fmt.Sprintf("malformed notification body: %v", err))
	}
	for k := range r.PostForm {
		data[k] = r.PostForm.Get(k)
	}
	return data, nil
}

func (s *Server) serveGetOrder(w http.ResponseWriter, r *http.Request) {
	var userID, err = requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var order, errGet = s.orders.OrderByNo(r.Context(), mux.Vars(r)["order_id"])
	if errors.Is(errGet, catalog.ErrNotFound) {
		writeError(w, r, fault.NotFound("order not found"))
		return
	} else if errGet != nil {
		writeError(w, r, errGet)
		return
	}

	// Foreign orders read as absent, not as forbidden.
	if order.UserID != userID {
		writeError(w, r, fault.NotFound("order not found"))
		return
	}
	writeData(w, order)
}
