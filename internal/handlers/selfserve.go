package handlers

import (
	"io"
	"net/http"
	"net/url"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/fields"
	"membership-manager/internal/members"
	"membership-manager/internal/middleware"
	"membership-manager/internal/tasks"
)

const (
	paymentMethodField = "payment_method"
	paymentPayPal      = "paypal"
	paymentCheque      = "cheque"

	// DemoPayerID marks payments faked in demo mode
	DemoPayerID = "FAKE-ID"

	maxIPNBody = 64 << 10
)

// JoinForm returns what the self-serve join form needs
func (h *Handlers) JoinForm(w http.ResponseWriter, r *http.Request) {
	h.selfServeForm(w, r, map[string]interface{}{"fields": fields.Member.Describe()})
}

// VolunteerForm returns what the self-serve volunteer form needs
func (h *Handlers) VolunteerForm(w http.ResponseWriter, r *http.Request) {
	h.selfServeForm(w, r, map[string]interface{}{"fields": fields.Volunteer.Describe()})
}

// ComboForm serves the page offering both joining and volunteering
func (h *Handlers) ComboForm(w http.ResponseWriter, r *http.Request) {
	h.selfServeForm(w, r, map[string]interface{}{
		"fields":           fields.Member.Describe(),
		"volunteer_fields": fields.Volunteer.Describe(),
	})
}

func (h *Handlers) selfServeForm(w http.ResponseWriter, r *http.Request, extra map[string]interface{}) {
	opts, err := h.formOptions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for k, v := range extra {
		opts[k] = v
	}
	opts["demo"] = h.demo
	writeJSON(w, http.StatusOK, opts)
}

// embedActor names the page a self-serve request came from
func embedActor(r *http.Request) string {
	if v := r.PostFormValue(middleware.EmbedderField); v != "" {
		return v
	}
	if v := r.Referer(); v != "" {
		return v
	}
	return r.Header.Get("Origin")
}

// Join records a self-serve join as a candidate until it is paid for.
// Cheque joins are processed straight away; PayPal joins get the payment
// link in the response body.
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := form[fields.Paid]; ok {
		h.writeError(w, r, errors.ValidationError("invalid field").WithContext("field", fields.Paid))
		return
	}

	member, err := h.members.MemberFromForm(r.Context(), form, embedActor(r), members.Join)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	method := form.Get(paymentMethodField)
	member[fields.Paid] = "N"
	if method == paymentPayPal {
		member[fields.Paid] = paymentPayPal
	}

	invoice, err := h.candidates.Store(r.Context(), member)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger := h.logger.WithContext(r.Context()).WithFields(logging.String("invoice", invoice))

	switch {
	case method == paymentCheque:
		if err := h.queue.Enqueue(r.Context(), tasks.ProcessMember, map[string]string{"invoice": invoice}); err != nil {
			h.writeError(w, r, err)
			return
		}
		logger.Info("Cheque join accepted")
		writeText(w, "success")

	case h.demo:
		params := map[string]string{
			"payer_email": member[fields.Email],
			"payer_id":    DemoPayerID,
			"first_name":  member[fields.FirstName],
			"last_name":   member[fields.LastName],
			"invoice":     invoice,
		}
		if err := h.queue.Enqueue(r.Context(), tasks.ProcessMember, params); err != nil {
			h.writeError(w, r, err)
			return
		}
		logger.Info("Demo join accepted")
		writeText(w, "demo")

	default:
		logger.Info("Join awaiting payment")
		writeText(w, h.paypal.PaymentURL(invoice))
	}
}

// Volunteer records a self-serve volunteer sign-up
func (h *Handlers) Volunteer(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	volunteer, err := h.members.VolunteerFromForm(r.Context(), form, embedActor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.members.JoinVolunteer(r.Context(), volunteer); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.queue.Enqueue(r.Context(), tasks.NewVolunteerMail, volunteer); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeText(w, "success")
}

// PayPalIPN accepts PayPal's instant payment notifications. Anything PayPal
// should not retry is answered with 200, even when it is ignored.
func (h *Handlers) PayPalIPN(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxIPNBody))
	if err != nil {
		h.writeError(w, r, errors.ValidationError("unreadable notification"))
		return
	}

	verified, err := h.paypal.Verify(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !verified {
		h.logger.WithContext(r.Context()).Warn("Unverified PayPal notification")
		http.Error(w, "unverified notification", http.StatusForbidden)
		return
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		h.writeError(w, r, errors.ValidationError("malformed notification"))
		return
	}
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	logger := h.logger.WithContext(r.Context()).WithFields(
		logging.String("txn_id", params["txn_id"]),
		logging.String("invoice", params["invoice"]),
	)

	if params["payment_status"] != "Completed" {
		logger.Info("Ignoring incomplete payment", logging.String("status", params["payment_status"]))
		return
	}
	if params["item_name"] != h.paypal.ExpectedItemName() {
		logger.Info("Ignoring payment for another item", logging.String("item_name", params["item_name"]))
		return
	}
	if params["receiver_email"] != h.paypal.ExpectedReceiverEmail() {
		logger.Warn("Payment to unexpected receiver", logging.String("receiver_email", params["receiver_email"]))
		if err := h.notifier.SendToAdmins(r.Context(), "ALERT: bad values in PayPal transaction", tasks.DescribeParams(params)); err != nil {
			logger.Error("Failed to send admin alert", err)
		}
		return
	}

	if err := h.queue.Enqueue(r.Context(), tasks.ProcessMember, params); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.Info("Payment queued for processing")
}
