package app

import (
	"context"
	"fmt"
	"time"

	"github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/services/auditlog"
	"github.com/schemaflow/platform/internal/app/services/flows"
	"github.com/schemaflow/platform/internal/app/services/mappings"
	"github.com/schemaflow/platform/internal/app/services/packages"
	"github.com/schemaflow/platform/internal/app/services/rulesets"
	"github.com/schemaflow/platform/internal/app/services/scheduler"
	"github.com/schemaflow/platform/internal/app/services/secrets"
	"github.com/schemaflow/platform/internal/app/services/tenants"
	"github.com/schemaflow/platform/internal/app/services/transforms"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/app/storage/memory"
	"github.com/schemaflow/platform/internal/app/system"
	"github.com/schemaflow/platform/internal/engine/apicall"
	"github.com/schemaflow/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Tenants    storage.TenantStore
	Users      storage.UserStore
	Artifacts  storage.ArtifactStore
	Packages   storage.PackageStore
	Secrets    storage.SecretStore
	Sessions   storage.SessionStore
	Executions storage.ExecutionStore
	Jobs       storage.JobStore
	Audit      storage.AuditStore
}

// Options carries the tunables the composition layer cannot default on its
// own.
type Options struct {
	// TokenSecret signs login tokens. Required for any deployment that
	// serves logins; tests may leave it empty and mint tokens directly.
	TokenSecret []byte
	// TokenTTL bounds login token lifetime. Zero keeps the service default.
	TokenTTL time.Duration
	// SecretCipher encrypts tenant secrets at rest. Nil stores plaintext.
	SecretCipher secrets.Cipher
	// CallerConfig bounds outbound mapping calls.
	CallerConfig apicall.Config
	// Cache backs mapping response caching. Nil disables it.
	Cache apicall.Cache
	// AuditSinks receive every audit entry in addition to the ring and store.
	AuditSinks []auditlog.Sink
	// SchedulerEnabled starts the cron runner with the application.
	SchedulerEnabled bool
	// SchedulerRunTimeout bounds one job dispatch. Zero keeps the default.
	SchedulerRunTimeout time.Duration
}

// Application ties the platform services together and manages their
// lifecycle. HTTP layers consume services through the exported fields.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tenants    *tenants.Service
	Artifacts  *artifacts.Service
	Rules      *rulesets.Service
	Flows      *flows.Service
	Mappings   *mappings.Service
	Transforms *transforms.Service
	Secrets    *secrets.Service
	Packages   *packages.Service
	Scheduler  *scheduler.Service
	Audit      *auditlog.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Tenants == nil {
		stores.Tenants = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Artifacts == nil {
		stores.Artifacts = mem
	}
	if stores.Packages == nil {
		stores.Packages = mem
	}
	if stores.Secrets == nil {
		stores.Secrets = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Executions == nil {
		stores.Executions = mem
	}
	if stores.Jobs == nil {
		stores.Jobs = mem
	}
	if stores.Audit == nil {
		stores.Audit = mem
	}

	manager := system.NewManager()

	tenantOpts := []tenants.Option{}
	if opts.TokenTTL > 0 {
		tenantOpts = append(tenantOpts, tenants.WithTokenTTL(opts.TokenTTL))
	}
	tenantSvc := tenants.New(stores.Tenants, stores.Users, opts.TokenSecret, log, tenantOpts...)

	secretOpts := []secrets.Option{}
	if opts.SecretCipher != nil {
		secretOpts = append(secretOpts, secrets.WithCipher(opts.SecretCipher))
	} else {
		log.Warn("no secret cipher configured; tenant secrets are stored in plaintext")
	}
	secretSvc := secrets.New(stores.Secrets, log, secretOpts...)

	transformSvc := transforms.New(log)

	artifactSvc := artifacts.New(stores.Artifacts, log)
	artifactSvc.AttachPackageStore(stores.Packages)

	caller := apicall.New(opts.CallerConfig,
		apicall.WithLogger(log),
		apicall.WithCache(opts.Cache),
	)
	mappingSvc := mappings.New(artifactSvc, caller, log)
	mappingSvc.AttachSecrets(secretSvc)
	mappingSvc.AttachTransforms(transformSvc)
	mappingSvc.AttachExecutionStore(stores.Executions)

	ruleSvc := rulesets.New(artifactSvc, log)

	flowSvc := flows.New(artifactSvc, stores.Sessions, log)
	flowSvc.AttachMappings(mappingSvc)

	packageSvc := packages.New(stores.Packages, stores.Artifacts, log)

	schedOpts := []scheduler.Option{}
	if opts.SchedulerRunTimeout > 0 {
		schedOpts = append(schedOpts, scheduler.WithRunTimeout(opts.SchedulerRunTimeout))
	}
	schedulerSvc := scheduler.New(stores.Jobs, log, schedOpts...)
	schedulerSvc.AttachMappings(mappingSvc)
	schedulerSvc.AttachFlows(flowSvc)

	auditOpts := []auditlog.Option{}
	for _, sink := range opts.AuditSinks {
		auditOpts = append(auditOpts, auditlog.WithSink(sink))
	}
	auditSvc := auditlog.New(log, auditOpts...)
	auditSvc.AttachStore(stores.Audit)

	for _, name := range []string{"tenants", "artifacts", "rules", "flows", "mappings", "packages"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if opts.SchedulerEnabled {
		if err := manager.Register(schedulerSvc); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Tenants:    tenantSvc,
		Artifacts:  artifactSvc,
		Rules:      ruleSvc,
		Flows:      flowSvc,
		Mappings:   mappingSvc,
		Transforms: transformSvc,
		Secrets:    secretSvc,
		Packages:   packageSvc,
		Scheduler:  schedulerSvc,
		Audit:      auditSvc,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
