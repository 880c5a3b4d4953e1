package handlers

import (
	"net/http"
	"strings"

	"github.com/samber/lo"

	"membership-manager/internal/auth"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/fields"
	"membership-manager/internal/members"
	"membership-manager/internal/tasks"
)

// Index lists the admin routes
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": auth.User(r),
		"routes": map[string]string{
			"new_member":       "/new-member",
			"renew_member":     "/renew-member",
			"authorize_user":   "/authorize-user",
			"all_members_json": "/all-members-json",
			"map_members":      "/map-members",
			"logout":           "/logout",
		},
	})
}

// MemberForm returns what the admin join and renew forms need
func (h *Handlers) MemberForm(w http.ResponseWriter, r *http.Request) {
	opts, err := h.formOptions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opts["fields"] = fields.Member.Describe()
	writeJSON(w, http.StatusOK, opts)
}

// NewMember joins (or, for a known email, renews) a member entered by an
// admin
func (h *Handlers) NewMember(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	member, err := h.members.MemberFromForm(r.Context(), form, auth.User(r), members.Join)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.members.JoinOrRenew(r.Context(), member)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// An admin re-submitting a known member gets no email, only a list sync
	task := tasks.NewMemberMail
	if outcome == members.Renewed {
		task = tasks.MailChimpUpsertMember
	}
	if err := h.queue.Enqueue(r.Context(), task, member); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeText(w, "success: "+string(outcome))
}

// RenewMember renews the member with the posted ID
func (h *Handlers) RenewMember(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	member, err := h.members.MemberFromForm(r.Context(), form, auth.User(r), members.Renew)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.members.RenewByID(r.Context(), member); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.queue.Enqueue(r.Context(), tasks.RenewMemberMail, member); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeText(w, "success")
}

// AuthorizeUserForm returns the authorized-user field metadata
func (h *Handlers) AuthorizeUserForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": fields.Authorized.Describe()})
}

// AuthorizeUser adds an admin
func (h *Handlers) AuthorizeUser(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.members.AuthorizeUser(r.Context(), form, auth.User(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.authorized != nil {
		h.authorized.Forget(user[fields.Email])
	}
	writeText(w, "success")
}

// AllMembers returns every member with the member field metadata
func (h *Handlers) AllMembers(w http.ResponseWriter, r *http.Request) {
	all, err := h.members.AllMembers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.WithContext(r.Context()).Info("Members listed", logging.Int("count", len(all)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fields":  fields.Member.Describe(),
		"members": all,
	})
}

type mapMarker struct {
	Name    string `json:"name"`
	LatLong string `json:"latlong"`
}

// MapMembers returns a marker for every member with a geocoded address
func (h *Handlers) MapMembers(w http.ResponseWriter, r *http.Request) {
	all, err := h.members.AllMembers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	markers := lo.FilterMap(all, func(m map[string]string, _ int) (mapMarker, bool) {
		return mapMarker{
			Name:    strings.TrimSpace(m[fields.FirstName] + " " + m[fields.LastName]),
			LatLong: m[fields.AddressLatLong],
		}, m[fields.AddressLatLong] != ""
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": markers})
}
