package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/gateway"
)

// IdempotencyKeyHeader lets clients retry createOrder safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type createOrderBody struct {
	CustomerID string
	Items      []gateway.ItemRequest
	Payment    order.PaymentInfo
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	body, err := h.decodeCreateOrder(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	customerID := id.UserID
	switch id.Role {
	case auth.RoleCustomer:
		if body.CustomerID != "" && body.CustomerID != id.UserID {
			writeError(w, r, errors.Wrap(auth.ErrUnauthorized, "customer_id must be the caller"))
			return
		}
	case auth.RoleAdmin:
		if body.CustomerID != "" {
			customerID = body.CustomerID
		}
	default:
		writeError(w, r, errors.Wrapf(auth.ErrUnauthorized, "role %s may not place orders", id.Role))
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), gateway.CreateOrderRequest{
		CustomerID:     customerID,
		Items:          body.Items,
		Payment:        body.Payment,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var raw, rawFrom string
	if err := h.decodeBody(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "status":
				v, err := d.Str()
				raw = v
				return err
			case "from":
				if d.Next() == jx.Null {
					return d.Null()
				}
				v, err := d.Str()
				rawFrom = v
				return err
			default:
				return d.Skip()
			}
		})
	}); err != nil {
		writeError(w, r, err)
		return
	}
	status, ok := order.ParseStatus(raw)
	if !ok {
		writeError(w, r, badRequest("unknown status %q", raw))
		return
	}
	var from order.Status
	if rawFrom != "" {
		if from, ok = order.ParseStatus(rawFrom); !ok {
			writeError(w, r, badRequest("unknown status %q", rawFrom))
			return
		}
	}

	o, err := h.orders.ChangeStatusFrom(r.Context(), id, r.PathValue("id"), from, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	o, err := h.orders.GetOrder(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) listBranchOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	branchID := r.PathValue("id")
	switch id.Role {
	case auth.RoleAdmin:
	case auth.RoleStaff:
		if id.BranchID != branchID {
			writeError(w, r, &order.BranchMismatchError{OrderBranch: branchID, ActorBranch: id.BranchID})
			return
		}
	default:
		writeError(w, r, errors.Wrapf(auth.ErrUnauthorized, "role %s may not list branch orders", id.Role))
		return
	}

	orders, err := h.orders.ListActiveOrders(r.Context(), branchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrderList(w, orders)
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	orders, err := h.orders.ListCustomerOrders(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrderList(w, orders)
}

func (h *Handler) decodeCreateOrder(w http.ResponseWriter, r *http.Request) (createOrderBody, error) {
	var body createOrderBody
	err := h.decodeBody(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "customer_id":
				body.CustomerID, err = d.Str()
			case "items":
				err = d.Arr(func(d *jx.Decoder) error {
					item, err := decodeItem(d)
					if err != nil {
						return err
					}
					body.Items = append(body.Items, item)
					return nil
				})
			case "payment":
				body.Payment, err = decodePayment(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return body, err
}

func decodeItem(d *jx.Decoder) (gateway.ItemRequest, error) {
	var item gateway.ItemRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		case "observation":
			if d.Next() == jx.Null {
				return d.Null()
			}
			item.Observation, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func decodePayment(d *jx.Decoder) (order.PaymentInfo, error) {
	var p order.PaymentInfo
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var (
			v   string
			err error
		)
		switch string(key) {
		case "method":
			v, err = d.Str()
			p.Method = order.PaymentMethod(v)
		case "ruc":
			p.RUC, err = d.Str()
		case "company_name":
			p.CompanyName, err = d.Str()
		case "address":
			p.Address, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

// decodeBody reads a size-limited JSON body and runs fn over it.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(data) == 0 {
		return badRequest("empty body")
	}
	if err := fn(jx.DecodeBytes(data)); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	var e jx.Encoder
	broadcast.WriteOrder(&e, o)
	writeJSON(w, status, e.Bytes())
}

func writeOrderList(w http.ResponseWriter, orders []order.Order) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orders")
	broadcast.WriteOrders(&e, orders)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
