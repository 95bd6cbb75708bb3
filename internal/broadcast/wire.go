package broadcast

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/comanda/internal/domain/order"
)

// NameSnapshot is the frame type of the initial hydration payload.
const NameSnapshot = "orders.snapshot"

// EncodeEvent renders ev as a self-contained JSON frame carrying enough data
// for a client to update its cache without a follow-up fetch.
func EncodeEvent(ev Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(ev.Name())
	switch ev := ev.(type) {
	case OrderCreated:
		e.FieldStart("order")
		WriteOrder(&e, &ev.Order)
	case OrderStatusChanged:
		e.FieldStart("order_id")
		e.Str(ev.OrderID)
		e.FieldStart("branch_id")
		e.Str(ev.BranchID)
		e.FieldStart("customer_id")
		e.Str(ev.CustomerID)
		e.FieldStart("old_status")
		e.Str(ev.OldStatus.String())
		e.FieldStart("new_status")
		e.Str(ev.NewStatus.String())
		e.FieldStart("changed_at")
		writeTime(&e, ev.ChangedAt)
	}
	e.ObjEnd()
	return e.Bytes()
}

// EncodeSnapshot renders the hydration frame sent before any live event.
func EncodeSnapshot(scope, key string, orders []order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(NameSnapshot)
	e.FieldStart("scope")
	e.Str(scope)
	e.FieldStart("key")
	e.Str(key)
	e.FieldStart("orders")
	WriteOrders(&e, orders)
	e.ObjEnd()
	return e.Bytes()
}

// WriteOrders writes orders as a JSON array.
func WriteOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		WriteOrder(e, &orders[i])
	}
	e.ArrEnd()
}

// WriteOrder writes o as a JSON object. Money is rendered as fixed two-decimal
// strings.
func WriteOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customer_id")
	e.Str(o.CustomerID)
	e.FieldStart("branch_id")
	e.Str(o.BranchID)
	e.FieldStart("status")
	e.Str(o.Status.String())
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("payment")
	writePayment(e, o.Payment)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		writeItem(e, it)
	}
	e.ArrEnd()
	e.FieldStart("created_at")
	writeTime(e, o.CreatedAt)
	e.FieldStart("updated_at")
	writeTime(e, o.UpdatedAt)
	e.ObjEnd()
}

func writeItem(e *jx.Encoder, it order.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("product_id")
	e.Str(it.ProductID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("unit_price")
	e.Str(it.UnitPrice.StringFixed(2))
	e.FieldStart("promo_price")
	if it.PromoPrice.Valid {
		e.Str(it.PromoPrice.Decimal.StringFixed(2))
	} else {
		e.Null()
	}
	e.FieldStart("description")
	e.Str(it.Description)
	e.FieldStart("image")
	e.Str(it.Image)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.FieldStart("observation")
	e.Str(it.Observation)
	e.FieldStart("subtotal")
	e.Str(it.Subtotal().StringFixed(2))
	e.ObjEnd()
}

func writePayment(e *jx.Encoder, p order.PaymentInfo) {
	e.ObjStart()
	e.FieldStart("method")
	e.Str(string(p.Method))
	if p.Method == order.PaymentInvoice {
		e.FieldStart("ruc")
		e.Str(p.RUC)
		e.FieldStart("company_name")
		e.Str(p.CompanyName)
		e.FieldStart("address")
		e.Str(p.Address)
	}
	e.ObjEnd()
}

func writeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}
