package tasks

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"membership-manager/internal/candidates"
	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/emailer"
	"membership-manager/internal/fields"
	"membership-manager/internal/locks"
	"membership-manager/internal/members"
	"membership-manager/internal/settings"
)

// Task names
const (
	NewMemberMail            = "new-member-mail"
	RenewMemberMail          = "renew-member-mail"
	NewVolunteerMail         = "new-volunteer-mail"
	MailChimpUpsertMember    = "mailchimp-upsert-member"
	MailChimpUpsertVolunteer = "mailchimp-upsert-volunteer"
	MemberSheetCull          = "member-sheet-cull"
	MemberSheetArchive       = "member-sheet-archive"
	ExpireMemberCandidates   = "expire-member-candidates"
	ProcessMember            = "process-member"
)

// Mailer sends email
type Mailer interface {
	Send(ctx context.Context, recipients []emailer.Recipient, subject, html, text string) error
	SendToAdmins(ctx context.Context, subject, text string) error
}

// ListSync pushes records to the mailing list
type ListSync interface {
	UpsertMember(ctx context.Context, member map[string]string) error
	UpsertVolunteer(ctx context.Context, volunteer map[string]string) error
}

// CandidateStore holds unpaid joins
type CandidateStore interface {
	Get(ctx context.Context, invoice string) (*candidates.Candidate, error)
	Delete(ctx context.Context, invoice string) error
	ClearExpired(ctx context.Context, now time.Time) (int, error)
}

// SettingsStore persists the settings singleton
type SettingsStore interface {
	Get(ctx context.Context) (*settings.Settings, error)
	Save(ctx context.Context, s *settings.Settings) error
}

// Locker takes a blocking distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (locks.Lock, error)
}

// Cull deletes rows by number, so it must not overlap an archive or
// another cull on any instance
const (
	sheetMaintenanceLock    = "members-sheet-maintenance"
	sheetMaintenanceLockTTL = 2 * time.Minute
)

// Handlers holds the dependencies of the task handlers. Locks may be nil
// when a single instance runs the workers.
type Handlers struct {
	Members    *members.Service
	Mailer     Mailer
	List       ListSync
	Candidates CandidateStore
	Settings   SettingsStore
	Queue      Enqueuer
	Locks      Locker
	Now        func() time.Time
	Logger     logging.Logger
}

// Register installs every handler on q
func (h *Handlers) Register(q *Queue) {
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Logger == nil {
		h.Logger = logging.GetGlobalLogger()
	}

	q.Register(NewMemberMail, h.newMemberMail)
	q.Register(RenewMemberMail, h.renewMemberMail)
	q.Register(NewVolunteerMail, h.newVolunteerMail)
	q.Register(MailChimpUpsertMember, h.upsertMember)
	q.Register(MailChimpUpsertVolunteer, h.upsertVolunteer)
	q.Register(MemberSheetCull, h.cullMembers)
	q.Register(MemberSheetArchive, h.archiveMembers)
	q.Register(ExpireMemberCandidates, h.expireCandidates)
	q.Register(ProcessMember, h.processMember)
}

func fullName(record map[string]string) string {
	return strings.TrimSpace(record[fields.FirstName] + " " + record[fields.LastName])
}

func (h *Handlers) newMemberMail(ctx context.Context, member map[string]string) error {
	// Look the reps up first so a failed lookup does not resend the welcome
	reps, err := h.Members.InterestReps(ctx, member)
	if err != nil {
		return err
	}
	to := []emailer.Recipient{{Address: member[fields.Email], Name: fullName(member)}}
	if err := h.Mailer.Send(ctx, to, newMemberSubject, newMemberHTML, ""); err != nil {
		return err
	}
	h.mailInterestReps(ctx, reps, member, "member")
	return h.Queue.Enqueue(ctx, MailChimpUpsertMember, member)
}

func (h *Handlers) renewMemberMail(ctx context.Context, member map[string]string) error {
	to := []emailer.Recipient{{Address: member[fields.Email], Name: fullName(member)}}
	if err := h.Mailer.Send(ctx, to, renewMemberSubject, renewMemberHTML, ""); err != nil {
		return err
	}
	return h.Queue.Enqueue(ctx, MailChimpUpsertMember, member)
}

func (h *Handlers) newVolunteerMail(ctx context.Context, volunteer map[string]string) error {
	reps, err := h.Members.InterestReps(ctx, volunteer)
	if err != nil {
		return err
	}
	to := []emailer.Recipient{{Address: volunteer[fields.Email], Name: fullName(volunteer)}}
	if err := h.Mailer.Send(ctx, to, newVolunteerSubject, newVolunteerHTML, ""); err != nil {
		return err
	}
	h.mailInterestReps(ctx, reps, volunteer, "volunteer")
	return h.Queue.Enqueue(ctx, MailChimpUpsertVolunteer, volunteer)
}

// mailInterestReps tells each interest rep about the new member or
// volunteer. Failures are logged, not retried.
func (h *Handlers) mailInterestReps(ctx context.Context, reps []members.InterestReps, record map[string]string, joinType string) {
	subject := fmt.Sprintf(interestRepSubject, joinType)
	for _, ir := range reps {
		body := interestRepHTML(ir.Interest, fullName(record), record[fields.Email], joinType)
		for _, rep := range ir.Reps {
			to := []emailer.Recipient{{Address: rep.Email, Name: rep.Name}}
			if err := h.Mailer.Send(ctx, to, subject, body, ""); err != nil {
				h.Logger.Error("Failed to email interest rep", err,
					logging.String("interest", ir.Interest),
					logging.String("rep", rep.Email),
				)
			}
		}
	}
}

func (h *Handlers) upsertMember(ctx context.Context, member map[string]string) error {
	return h.List.UpsertMember(ctx, member)
}

func (h *Handlers) upsertVolunteer(ctx context.Context, volunteer map[string]string) error {
	return h.List.UpsertVolunteer(ctx, volunteer)
}

// withSheetLock runs fn while holding the members sheet maintenance lock.
// A lock that cannot be taken is reported as a transient failure so the
// task is retried later.
func (h *Handlers) withSheetLock(ctx context.Context, fn func() error) error {
	if h.Locks == nil {
		return fn()
	}
	lock, err := h.Locks.AcquireLock(ctx, sheetMaintenanceLock, sheetMaintenanceLockTTL)
	if err != nil {
		return errors.ConnectionError("members sheet is busy", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			h.Logger.Warn("Failed to release sheet lock", logging.Err(err))
		}
	}()
	return fn()
}

// cullMembers removes one stale row per run and re-enqueues itself until
// nothing is left to cull
func (h *Handlers) cullMembers(ctx context.Context, _ map[string]string) error {
	var deleted bool
	err := h.withSheetLock(ctx, func() error {
		var err error
		deleted, err = h.Members.CullMembers(ctx, h.Now())
		return err
	})
	if err != nil || !deleted {
		return err
	}
	return h.Queue.Enqueue(ctx, MemberSheetCull, nil)
}

func (h *Handlers) archiveMembers(ctx context.Context, _ map[string]string) error {
	return h.withSheetLock(ctx, func() error {
		return h.archive(ctx)
	})
}

func (h *Handlers) archive(ctx context.Context) error {
	current, err := h.Settings.Get(ctx)
	if err != nil {
		return errors.InternalError("failed to load settings", err)
	}

	year, err := h.Members.ArchiveMembers(ctx, current.MemberSheetYear, h.Now())
	if err != nil {
		return err
	}
	if year == current.MemberSheetYear {
		return nil
	}

	current.MemberSheetYear = year
	if err := h.Settings.Save(ctx, current); err != nil {
		return errors.InternalError("failed to save settings", err)
	}
	return nil
}

func (h *Handlers) expireCandidates(ctx context.Context, _ map[string]string) error {
	_, err := h.Candidates.ClearExpired(ctx, h.Now())
	return err
}

// processMember completes a paid (or cheque, or demo) join. Without a
// stored candidate the payment is treated as a renewal of an existing
// member. The candidate is only deleted once the sheet holds the member,
// so a retried task still finds it.
func (h *Handlers) processMember(ctx context.Context, params map[string]string) error {
	payerEmail := params["payer_email"]
	payerID := params["payer_id"]
	payerName := ""
	if params["first_name"] != "" && params["last_name"] != "" {
		payerName = params["first_name"] + " " + params["last_name"]
	}

	invoice := params["invoice"]
	var member map[string]string
	candidate, err := h.Candidates.Get(ctx, invoice)
	switch {
	case err == nil:
		member = candidate.Member
		if member == nil {
			member = map[string]string{}
		}
	case errors.IsType(err, errors.ErrTypeNotFound):
		member = map[string]string{}
	default:
		return err
	}

	member[fields.PaypalName] = payerName
	member[fields.PaypalEmail] = payerEmail
	member[fields.PaypalPayerID] = payerID

	if candidate != nil {
		outcome, err := h.Members.JoinOrRenew(ctx, member)
		if err != nil {
			return err
		}
		if err := h.Candidates.Delete(ctx, invoice); err != nil {
			h.Logger.Warn("Failed to delete member candidate", logging.String("invoice", invoice), logging.Err(err))
		}
		if outcome == members.Renewed {
			return h.Queue.Enqueue(ctx, RenewMemberMail, member)
		}
		return h.Queue.Enqueue(ctx, NewMemberMail, member)
	}

	renewed, err := h.Members.RenewByEmailOrPayPalID(ctx, payerEmail, payerID, member)
	if err != nil {
		return err
	}
	if !renewed {
		h.Logger.Error("Failed to renew valid payer", nil, logging.String("payer_email", payerEmail), logging.String("payer_id", payerID))
		if err := h.Mailer.SendToAdmins(ctx, "ALERT: failed to renew valid payer", DescribeParams(params)); err != nil {
			h.Logger.Error("Failed to send admin alert", err)
		}
		return nil
	}
	return h.Queue.Enqueue(ctx, RenewMemberMail, member)
}

// DescribeParams renders transaction values one per line, sorted by key
func DescribeParams(params map[string]string) string {
	keys := lo.Keys(params)
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, params[k])
	}
	return b.String()
}

const (
	newMemberSubject    = "Welcome to the association"
	renewMemberSubject  = "Thank you for renewing your membership"
	newVolunteerSubject = "Thank you for volunteering"
	interestRepSubject  = "A new %s is interested in your area"

	newMemberHTML    = "<p>Thank you for becoming a member. We look forward to seeing you at our next event.</p>"
	renewMemberHTML  = "<p>Thank you for renewing your membership. Your support keeps the association going.</p>"
	newVolunteerHTML = "<p>Thank you for signing up to volunteer. Someone will be in touch soon.</p>"
)

func interestRepHTML(interest, name, email, joinType string) string {
	return fmt.Sprintf("<p>A new %s, %s (<a href=\"mailto:%s\">%s</a>), is interested in <b>%s</b>.</p>",
		html.EscapeString(joinType),
		html.EscapeString(name),
		html.EscapeString(email),
		html.EscapeString(email),
		html.EscapeString(interest),
	)
}
