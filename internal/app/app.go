package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"membership-manager/internal/auth"
	"membership-manager/internal/candidates"
	commonhttp "membership-manager/internal/common/http"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/ratelimit"
	"membership-manager/internal/config"
	"membership-manager/internal/emailer"
	"membership-manager/internal/fields"
	"membership-manager/internal/geocode"
	"membership-manager/internal/locks"
	"membership-manager/internal/mailchimp"
	"membership-manager/internal/members"
	"membership-manager/internal/metrics"
	"membership-manager/internal/paypal"
	"membership-manager/internal/redis"
	"membership-manager/internal/scheduler"
	"membership-manager/internal/settings"
	"membership-manager/internal/sheetdata"
	"membership-manager/internal/tasks"
)

// startupTimeout bounds the sheet lookups done while starting
const startupTimeout = time.Minute

// App holds all the application dependencies
type App struct {
	Config     *config.Config
	Logger     logging.Logger
	Metrics    *metrics.Registry
	Redis      *redis.Client
	Settings   *settings.Store
	Locks      *locks.Manager
	Sheets     *sheetdata.Store
	Members    *members.Service
	Mailer     *emailer.Service
	MailChimp  *mailchimp.Client
	PayPal     *paypal.Client
	Candidates *candidates.Store
	Queue      *tasks.Queue
	Scheduler  *scheduler.Scheduler
	Auth       *auth.Auth
	Limiter    *ratelimit.Limiter

	workerCancel context.CancelFunc
	workersDone  chan struct{}
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.GetGlobalLogger().WithFields(logging.Field{"component", "app"}),
		Metrics: metrics.NewRegistry(),
	}

	// Initialize components in order of dependency
	steps := []func() error{
		app.initializeRedis,
		app.initializeSettings,
		app.initializeMembers,
		app.initializeOutbound,
		app.initializeAuth,
		app.initializeTasks,
		app.initializeScheduler,
		app.initializeRateLimiter,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			app.Cleanup()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) initializeSettings() error {
	store, err := settings.Open(app.Config.SettingsDBPath)
	if err != nil {
		return err
	}
	app.Settings = store
	app.Logger.Info("Settings store opened", logging.String("path", app.Config.SettingsDBPath))
	return nil
}

// initializeMembers connects to Sheets and Drive, resolves every configured
// worksheet and builds the member service on top of them.
func (app *App) initializeMembers() error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	store, err := sheetdata.NewStore(ctx, sheetdata.Config{
		CredentialsFile: app.Config.GoogleCredentialsFile,
		CredentialsJSON: app.Config.GoogleCredentialsJSON,
	}, app.Metrics)
	if err != nil {
		return err
	}
	app.Sheets = store

	var sheets members.Sheets
	targets := []struct {
		id    string
		set   *fields.Set
		sheet **sheetdata.Sheet
	}{
		{app.Config.MembersSpreadsheetID, fields.Member, &sheets.Members},
		{app.Config.AuthorizedSpreadsheetID, fields.Authorized, &sheets.Authorized},
		{app.Config.VolunteerSpreadsheetID, fields.Volunteer, &sheets.Volunteers},
		{app.Config.InterestsSpreadsheetID, fields.VolunteerInterest, &sheets.VolunteerInterests},
		{app.Config.SkillsSpreadsheetID, fields.SkillsCategory, &sheets.SkillsCategories},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		if t.id == "" {
			continue
		}
		t := t
		g.Go(func() error {
			sheet, err := store.Resolve(gctx, t.id, t.set)
			if err != nil {
				return fmt.Errorf("resolve %s sheet: %w", t.set.Name, err)
			}
			*t.sheet = sheet
			app.Logger.Info("Sheet resolved", logging.String("set", t.set.Name), logging.String("sheet", sheet.String()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	geocoder, err := geocode.New(geocode.Config{
		APIKey:     app.Config.GoogleMapsAPIKey,
		HTTPClient: commonhttp.NewHTTPClient(),
	}, app.Metrics, app.Logger)
	if err != nil {
		return err
	}

	app.Members = members.NewService(store, sheets, geocoder, app.Config.Location(), app.Logger)
	return nil
}

// initializeOutbound builds the clients for email, MailChimp and PayPal
func (app *App) initializeOutbound() error {
	cfg := app.Config
	client := commonhttp.NewHTTPClient(commonhttp.WithTimeout(30 * time.Second))

	app.Mailer = emailer.NewService(emailer.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.MasterEmailAddress,
		FromName:    cfg.MasterEmailSendName,
		AllowedTo:   cfg.AllowedEmailToAddresses,
		Demo:        cfg.Demo,
	}, app.Metrics, app.Logger)

	app.MailChimp = mailchimp.New(mailchimp.Config{
		Enabled:       cfg.MailChimpEnabled,
		APIKey:        cfg.MailChimpAPIKey,
		ListID:        cfg.MailChimpListID,
		DC:            cfg.MailChimpDC,
		TypeMergeTag:  cfg.MailChimpTypeMergeTag,
		TypeMember:    cfg.MailChimpTypeMember,
		TypeVolunteer: cfg.MailChimpTypeVolunteer,
	}, client, app.Metrics, app.Logger)

	app.PayPal = paypal.New(paypal.Config{
		PaymentURL:    cfg.PayPalPaymentURL,
		ValidationURL: cfg.PayPalIPNValidationURL,
		ItemName:      cfg.PayPalItemName,
		ReceiverEmail: cfg.PayPalReceiverEmail,
	}, client, app.Metrics, app.Logger)

	if cfg.Demo {
		app.Logger.Warn("Demo mode: PayPal is skipped and no email is sent")
	}
	return nil
}

func (app *App) initializeAuth() error {
	a, err := auth.New(auth.Config{
		Secret: app.Config.SessionSecret,
		TTL:    app.Config.SessionTTL,
		Secure: !app.Config.Debug,
	}, auth.GoogleVerifier{ClientID: app.Config.GoogleSigninClientID}, app.Members, app.Logger)
	if err != nil {
		return err
	}
	app.Auth = a
	return nil
}

// initializeTasks builds the queue and registers every task handler
func (app *App) initializeTasks() error {
	app.Candidates = candidates.NewStore(app.Redis, app.Logger)
	app.Queue = tasks.NewQueue(app.Redis, app.Metrics, app.Logger)

	handlers := &tasks.Handlers{
		Members:    app.Members,
		Mailer:     app.Mailer,
		List:       app.MailChimp,
		Candidates: app.Candidates,
		Settings:   app.Settings,
		Queue:      app.Queue,
		Locks:      app.Locks,
		Logger:     app.Logger,
	}
	handlers.Register(app.Queue)
	return nil
}

func (app *App) initializeScheduler() error {
	jobs := []scheduler.Job{
		{Name: "member-cull", Schedule: app.Config.MemberCullSchedule, Task: tasks.MemberSheetCull},
		{Name: "member-archive", Schedule: app.Config.MemberArchiveSchedule, Task: tasks.MemberSheetArchive},
		{Name: "candidate-expire", Schedule: app.Config.CandidateExpireSchedule, Task: tasks.ExpireMemberCandidates},
	}
	s, err := scheduler.New(jobs, app.Queue, app.Locks, app.Config.Location(), app.Logger)
	if err != nil {
		return err
	}
	app.Scheduler = s
	return nil
}

func (app *App) initializeRateLimiter() error {
	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: app.Config.SelfServeRateRPS,
		BurstSize:         app.Config.SelfServeRateBurst,
	})
	if err != nil {
		return err
	}
	app.Limiter = limiter
	app.Logger.Info("Self-serve rate limiting enabled",
		logging.Any("rps", app.Config.SelfServeRateRPS),
		logging.Int("burst", app.Config.SelfServeRateBurst),
	)
	return nil
}

// StartWorkers runs the task workers and the cron scheduler until
// StopWorkers is called
func (app *App) StartWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	app.workerCancel = cancel
	app.workersDone = make(chan struct{})

	go func() {
		defer close(app.workersDone)
		app.Queue.Run(ctx, app.Config.TaskWorkers)
	}()
	app.Scheduler.Start()
}

// StopWorkers stops the scheduler and waits for running tasks to finish
// or ctx to expire
func (app *App) StopWorkers(ctx context.Context) {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.workerCancel == nil {
		return
	}
	app.workerCancel()
	select {
	case <-app.workersDone:
	case <-ctx.Done():
		app.Logger.Warn("Task workers did not stop in time")
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error closing lock manager", logging.Err(err))
		}
	}
	if app.Settings != nil {
		app.Settings.Close()
	}
	if app.Redis != nil {
		app.Redis.Close()
	}
}
